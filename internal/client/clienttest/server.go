// Package clienttest provides an in-process fake of the generation service.
package clienttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// PreviewHTML is served for every known preview token.
const PreviewHTML = `<!doctype html><html><head><title>preview</title></head><body><div id="root">ok</div></body></html>`

// Frame renders v as one stream frame line.
func Frame(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return "data: " + string(b)
}

// Server fakes the generation service. Configure it before issuing requests.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	frames       []string
	streamStatus int
	abort        bool
	hold         chan struct{}
	holdOnce     sync.Once
	archive      []byte
	previews     map[string]bool
	prompts      []string
	stopped      []string
}

// New starts a fake service that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{previews: make(map[string]bool)}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/get_app/stream", s.handleStream)
	r.Post("/get_app", s.handleArchive)
	r.Get("/preview/{token}/*", s.handlePreview)
	r.Delete("/preview/{token}", s.handleStop)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// SetFrames sets the lines written by the streaming endpoint, in order. Each
// is followed by a blank line, as the real service does.
func (s *Server) SetFrames(frames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = frames
}

// FailStream makes the streaming endpoint answer with status instead.
func (s *Server) FailStream(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamStatus = status
}

// AbortAfterFrames makes the streaming endpoint drop the connection once the
// frames have been written.
func (s *Server) AbortAfterFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abort = true
}

// HoldStream keeps streams open after their frames until Release is called
// or the client goes away.
func (s *Server) HoldStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
}

// Release lets held streams finish.
func (s *Server) Release() {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		s.holdOnce.Do(func() { close(hold) })
	}
}

// SetArchive sets the bytes returned by the non-streaming endpoint.
func (s *Server) SetArchive(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archive = b
}

// AddPreview registers a running preview token.
func (s *Server) AddPreview(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews[token] = true
}

// Prompts returns the prompts received so far.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Stopped returns the preview tokens stopped so far.
func (s *Server) Stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stopped...)
}

// Close releases held streams and shuts the server down.
func (s *Server) Close() {
	s.Release()
	s.Server.Close()
}

func (s *Server) readPrompt(w http.ResponseWriter, r *http.Request) bool {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"detail":"invalid body"}`, http.StatusUnprocessableEntity)
		return false
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.readPrompt(w, r) {
		return
	}
	s.mu.Lock()
	frames := append([]string(nil), s.frames...)
	status, abort, hold := s.streamStatus, s.abort, s.hold
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"detail":"generation unavailable"}`, status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, f := range frames {
		_, _ = w.Write([]byte(f + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}
	if abort {
		panic(http.ErrAbortHandler)
	}
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
		}
	}
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if !s.readPrompt(w, r) {
		return
	}
	s.mu.Lock()
	archive := s.archive
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="codebase.zip"`)
	_, _ = w.Write(archive)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.Lock()
	ok := s.previews[token]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(PreviewHTML))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.Lock()
	ok := s.previews[token]
	if ok {
		delete(s.previews, token)
		s.stopped = append(s.stopped, token)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"detail":"Preview not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"stopped"}`))
}
