package session

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"appgen/internal/artifact"
	"appgen/internal/client"
	"appgen/internal/client/clienttest"
	"appgen/internal/log"
	"appgen/internal/preview"
	"appgen/internal/progress"
)

type recorder struct {
	mu      sync.Mutex
	snaps   []progress.Snapshot
	results []progress.Result
}

func (r *recorder) Update(s progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) Result(res progress.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) Snapshots() []progress.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Snapshot(nil), r.snaps...)
}

func (r *recorder) Results() []progress.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Result(nil), r.results...)
}

// pipeStreamer hands out pipes the test writes frames into.
type pipeStreamer struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
}

func (s *pipeStreamer) OpenStream(context.Context, string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	s.mu.Lock()
	s.writers = append(s.writers, pw)
	s.mu.Unlock()
	return pr, nil
}

func (s *pipeStreamer) writer(t *testing.T, i int) *io.PipeWriter {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.writers) > i
	}, 2*time.Second, 5*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writers[i]
}

// staticStreamer serves the same body to every request.
type staticStreamer struct {
	body string
	err  error
}

func (s staticStreamer) OpenStream(context.Context, string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type okViewport struct{}

func (okViewport) Load(context.Context, string) error { return nil }
func (okViewport) Inspect() (bool, bool)              { return false, true }

type fakeDisplay struct{ enters, exits int }

func (d *fakeDisplay) Enter() error { d.enters++; return nil }
func (d *fakeDisplay) Exit() error  { d.exits++; return nil }

func frames(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func newController(t *testing.T, base string, opts ...Option) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithReporter(rec), WithLogger(log.Discard())}, opts...)
	c := New(base, opts...)
	t.Cleanup(c.Close)
	return c, rec
}

func waitFor(t *testing.T, c *Controller, cond func(progress.Snapshot) bool) progress.Snapshot {
	t.Helper()
	var last progress.Snapshot
	require.Eventually(t, func() bool {
		last = c.Snapshot()
		return cond(last)
	}, 3*time.Second, 5*time.Millisecond)
	return last
}

func terminal(s progress.Snapshot) bool { return s.Phase.Terminal() }

func TestScenarioPlannerCoderCompleted(t *testing.T) {
	srv := clienttest.New(t)
	srv.SetFrames(
		clienttest.Frame(map[string]any{"status": "processing", "stage": "planner", "message": "Planning..."}),
		clienttest.Frame(map[string]any{"status": "processing", "stage": "coder", "message": "Writing files...", "iteration": 2}),
		clienttest.Frame(map[string]any{"status": "completed", "message": "Done", "artifact_payload": "AQID", "file_count": 5}),
	)
	c, rec := newController(t, srv.URL, WithHTTPClient(srv.Client()))

	require.NoError(t, c.Start(context.Background(), "  todo app  "))
	s := waitFor(t, c, terminal)

	assert.Equal(t, progress.PhaseCompleted, s.Phase)
	assert.False(t, s.Active)
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, progress.StageCoder, s.Stage)
	assert.Equal(t, []byte{1, 2, 3}, s.Artifact)
	assert.True(t, s.ArtifactReady)
	require.NotNil(t, s.ArtifactItemCount)
	assert.Equal(t, 5, *s.ArtifactItemCount)
	assert.NoError(t, s.ArtifactErr)
	assert.Nil(t, s.Preview)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, []progress.Message{
		{Role: progress.RoleUser, Text: "todo app"},
		{Role: progress.RoleStatus, Text: "Done"},
	}, s.Messages)
	assert.Equal(t, []string{"todo app"}, srv.Prompts())

	var stages []progress.Stage
	for _, snap := range rec.Snapshots() {
		if n := len(stages); snap.Stage != progress.StageNone && (n == 0 || stages[n-1] != snap.Stage) {
			stages = append(stages, snap.Stage)
		}
	}
	assert.Equal(t, []progress.Stage{progress.StagePlanner, progress.StageCoder}, stages)

	require.Eventually(t, func() bool { return len(rec.Results()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, progress.PhaseCompleted, rec.Results()[0].Phase)
	assert.Equal(t, s.ID, rec.Results()[0].SessionID)
}

func TestErrorOnlyStream(t *testing.T) {
	body := frames(clienttest.Frame(map[string]any{"status": "error", "message": "LLM quota exceeded"}))
	c, rec := newController(t, "", WithStreamer(staticStreamer{body: body}), WithViewport(okViewport{}))

	require.NoError(t, c.Start(context.Background(), "blog"))
	s := waitFor(t, c, terminal)

	assert.Equal(t, progress.PhaseFailed, s.Phase)
	assert.Equal(t, "LLM quota exceeded", s.Failure)
	assert.Equal(t, "LLM quota exceeded", s.Messages[1].Text)
	assert.False(t, s.ArtifactReady)
	assert.Nil(t, s.Artifact)
	assert.Nil(t, s.Preview)

	for _, snap := range rec.Snapshots() {
		assert.NotEqual(t, progress.PhaseRunning, snap.Phase, "no running phase on an error-only stream")
	}
}

func TestStartRejectedWhileActive(t *testing.T) {
	srv := clienttest.New(t)
	srv.SetFrames(clienttest.Frame(map[string]any{"status": "processing", "stage": "planner", "message": "Planning..."}))
	srv.HoldStream()
	c, _ := newController(t, srv.URL, WithHTTPClient(srv.Client()))

	require.NoError(t, c.Start(context.Background(), "todo app"))
	before := waitFor(t, c, func(s progress.Snapshot) bool { return s.Stage == progress.StagePlanner })
	require.True(t, before.Active)

	err := c.Start(context.Background(), "something else")
	assert.ErrorIs(t, err, ErrSessionActive)

	after := c.Snapshot()
	assert.Empty(t, cmp.Diff(before, after, cmpopts.IgnoreFields(progress.Snapshot{}, "Seq")))
	assert.Equal(t, []string{"todo app"}, srv.Prompts())

	c.Clear()
	cleared := c.Snapshot()
	assert.False(t, cleared.Active)
	assert.Equal(t, progress.PhaseIdle, cleared.Phase)
	assert.Empty(t, cleared.ID)
	assert.Empty(t, cleared.Messages)
}

func TestEmptyPrompt(t *testing.T) {
	c, rec := newController(t, "", WithStreamer(staticStreamer{}), WithViewport(okViewport{}))
	assert.ErrorIs(t, c.Start(context.Background(), " \n\t"), ErrEmptyPrompt)
	assert.Empty(t, rec.Snapshots())
	assert.Equal(t, progress.PhaseIdle, c.Snapshot().Phase)
}

func TestTransportFailures(t *testing.T) {
	processing := clienttest.Frame(map[string]any{"status": "processing", "stage": "architect", "message": "Designing"})

	t.Run("non-success status", func(t *testing.T) {
		srv := clienttest.New(t)
		srv.FailStream(http.StatusInternalServerError)
		c, rec := newController(t, srv.URL, WithHTTPClient(srv.Client()))

		require.NoError(t, c.Start(context.Background(), "app"))
		s := waitFor(t, c, terminal)
		assert.Equal(t, progress.PhaseFailed, s.Phase)
		assert.Equal(t, MsgConnectFailed, s.Failure)

		require.Eventually(t, func() bool { return len(rec.Results()) == 1 }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, rec.Results()[0].Err, client.ErrRequestFailed)
	})

	t.Run("not running", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		base := "http://" + ln.Addr().String()
		require.NoError(t, ln.Close())
		c, rec := newController(t, base)

		require.NoError(t, c.Start(context.Background(), "app"))
		s := waitFor(t, c, terminal)
		assert.Equal(t, MsgConnectFailed, s.Failure)
		require.Eventually(t, func() bool { return len(rec.Results()) == 1 }, time.Second, 5*time.Millisecond)
		assert.True(t, client.Unreachable(rec.Results()[0].Err))
	})

	t.Run("connection lost mid-stream", func(t *testing.T) {
		srv := clienttest.New(t)
		srv.SetFrames(processing)
		srv.AbortAfterFrames()
		c, _ := newController(t, srv.URL, WithHTTPClient(srv.Client()))

		require.NoError(t, c.Start(context.Background(), "app"))
		s := waitFor(t, c, terminal)
		assert.Equal(t, MsgConnectionLost, s.Failure)
		assert.Equal(t, progress.StageArchitect, s.Stage, "applied events are kept")
	})

	t.Run("closed without terminal event", func(t *testing.T) {
		c, _ := newController(t, "", WithStreamer(staticStreamer{body: frames(processing)}), WithViewport(okViewport{}))

		require.NoError(t, c.Start(context.Background(), "app"))
		s := waitFor(t, c, terminal)
		assert.Equal(t, MsgEndedEarly, s.Failure)
		assert.Equal(t, MsgEndedEarly, s.Messages[1].Text)
	})

	t.Run("open error", func(t *testing.T) {
		c, _ := newController(t, "", WithStreamer(staticStreamer{err: errors.New("dial tcp: refused")}), WithViewport(okViewport{}))

		require.NoError(t, c.Start(context.Background(), "app"))
		s := waitFor(t, c, terminal)
		assert.Equal(t, MsgConnectFailed, s.Failure)
	})
}

func TestMalformedFramesDoNotEndSession(t *testing.T) {
	body := frames(
		"data: {not json",
		"event: ping",
		clienttest.Frame(map[string]any{"status": "bogus"}),
		clienttest.Frame(map[string]any{"status": "completed", "message": "Done"}),
	)
	c, _ := newController(t, "", WithStreamer(staticStreamer{body: body}), WithViewport(okViewport{}))

	require.NoError(t, c.Start(context.Background(), "app"))
	s := waitFor(t, c, terminal)
	assert.Equal(t, progress.PhaseCompleted, s.Phase)
	assert.False(t, s.ArtifactReady)
}

func TestCompletedWithPreview(t *testing.T) {
	srv := clienttest.New(t)
	srv.AddPreview("tok")
	start := time.Unix(1_700_000_000, 0)
	clock := preview.NewManualClock(start)
	srv.SetFrames(clienttest.Frame(map[string]any{
		"status":             "completed",
		"stage":              "preview_server",
		"message":            "Preview ready",
		"zip_data":           artifact.Encode([]byte("zip")),
		"preview_url":        "/preview/tok/",
		"preview_token":      "tok",
		"preview_expires_at": 1_700_000_600.0,
	}))
	c, _ := newController(t, srv.URL, WithHTTPClient(srv.Client()), WithClock(clock))

	require.NoError(t, c.Start(context.Background(), "landing page"))
	s := waitFor(t, c, func(s progress.Snapshot) bool {
		return s.Preview != nil && s.Preview.Load == preview.LoadHealthy
	})
	assert.Equal(t, srv.URL+"/preview/tok/", s.Preview.URL)
	assert.Equal(t, "tok", s.Preview.Token)
	assert.Equal(t, 600, s.Preview.Remaining)
	assert.False(t, s.Preview.Expired)

	require.NoError(t, c.RefreshPreview())
	waitFor(t, c, func(s progress.Snapshot) bool {
		return s.Preview != nil && s.Preview.Load == preview.LoadHealthy
	})

	clock.Advance(10 * time.Minute)
	s = c.Snapshot()
	require.NotNil(t, s.Preview)
	assert.True(t, s.Preview.Expired)
	assert.Equal(t, 0, s.Preview.Remaining)
	assert.ErrorIs(t, c.RefreshPreview(), preview.ErrExpired)

	c.Clear()
	assert.Nil(t, c.Snapshot().Preview)
	assert.ErrorIs(t, c.RefreshPreview(), ErrNoPreview)
}

func TestPreviewDefaults(t *testing.T) {
	clock := preview.NewManualClock(time.Unix(1_700_000_000, 0))
	display := &fakeDisplay{}
	body := frames(clienttest.Frame(map[string]any{
		"status":      "completed",
		"message":     "Done",
		"preview_url": "https://preview.example/app/",
	}))
	c, _ := newController(t, "http://localhost:8000",
		WithStreamer(staticStreamer{body: body}),
		WithViewport(okViewport{}),
		WithClock(clock),
		WithDisplay(display),
	)

	require.NoError(t, c.Start(context.Background(), "app"))
	s := waitFor(t, c, func(s progress.Snapshot) bool { return s.Preview != nil })
	assert.Equal(t, "https://preview.example/app/", s.Preview.URL)
	assert.Equal(t, int(DefaultPreviewLifetime/time.Second), s.Preview.Remaining)

	on, err := c.TogglePreviewFullscreen()
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, 1, display.enters)

	c.SyncFullscreen(false)
	assert.False(t, c.Snapshot().Preview.Fullscreen)
	assert.Equal(t, 0, display.exits)
}

func TestArtifactDecodeError(t *testing.T) {
	body := frames(clienttest.Frame(map[string]any{"status": "completed", "message": "Done", "zip_data": "not base64!"}))
	c, _ := newController(t, "", WithStreamer(staticStreamer{body: body}), WithViewport(okViewport{}))

	require.NoError(t, c.Start(context.Background(), "app"))
	s := waitFor(t, c, terminal)
	assert.Equal(t, progress.PhaseCompleted, s.Phase)
	assert.ErrorIs(t, s.ArtifactErr, artifact.ErrDecode)
	assert.False(t, s.ArtifactReady)

	_, err := c.DownloadArtifact()
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestDownloadArtifact(t *testing.T) {
	dir := t.TempDir()
	body := frames(clienttest.Frame(map[string]any{"status": "completed", "message": "Done", "zip_data": "AQID", "file_count": 1}))
	c, _ := newController(t, "", WithStreamer(staticStreamer{body: body}), WithViewport(okViewport{}), WithOutDir(dir))

	_, err := c.DownloadArtifact()
	assert.ErrorIs(t, err, ErrNoArtifact)

	require.NoError(t, c.Start(context.Background(), "app"))
	waitFor(t, c, terminal)

	path, err := c.DownloadArtifact()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, artifact.DefaultName), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, path, c.Snapshot().SavedPath)
}

func TestRestartAfterCompletion(t *testing.T) {
	body := frames(clienttest.Frame(map[string]any{"status": "completed", "message": "Done", "zip_data": "AQID"}))
	c, _ := newController(t, "", WithStreamer(staticStreamer{body: body}), WithViewport(okViewport{}))

	require.NoError(t, c.Start(context.Background(), "first"))
	first := waitFor(t, c, terminal)

	require.NoError(t, c.Start(context.Background(), "second"))
	second := waitFor(t, c, terminal)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "second", second.Messages[0].Text)
	assert.Len(t, second.Messages, 2)
}

func TestClearStopsStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ps := &pipeStreamer{}
	c := New("", WithStreamer(ps), WithViewport(okViewport{}), WithLogger(log.Discard()))

	require.NoError(t, c.Start(context.Background(), "app"))
	w := ps.writer(t, 0)
	_, err := w.Write([]byte(clienttest.Frame(map[string]any{"status": "processing", "stage": "planner", "message": "Planning..."}) + "\n"))
	require.NoError(t, err)
	waitFor(t, c, func(s progress.Snapshot) bool { return s.Stage == progress.StagePlanner })

	c.Clear()
	s := c.Snapshot()
	assert.Equal(t, progress.PhaseIdle, s.Phase)
	assert.False(t, s.Active)

	c.Close()

	// the old stream is closed; late frames go nowhere
	_, err = w.Write([]byte(clienttest.Frame(map[string]any{"status": "completed", "message": "late"}) + "\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, progress.PhaseIdle, c.Snapshot().Phase)
}

func TestCallerCancel(t *testing.T) {
	ps := &pipeStreamer{}
	c, _ := newController(t, "", WithStreamer(ps), WithViewport(okViewport{}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, "app"))
	ps.writer(t, 0)
	cancel()

	s := waitFor(t, c, terminal)
	assert.Equal(t, progress.PhaseFailed, s.Phase)
	assert.Equal(t, MsgCanceled, s.Failure)
}
