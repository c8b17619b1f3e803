// Package session drives one generation request at a time: it opens the
// event stream, feeds the stage machine, decodes the artifact and hands the
// preview to the preview manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appgen/internal/artifact"
	"appgen/internal/client"
	"appgen/internal/log"
	"appgen/internal/preview"
	"appgen/internal/progress"
)

// User-visible failure messages for transport problems.
const (
	MsgConnectFailed  = "Failed to connect to the generation service"
	MsgConnectionLost = "Connection lost during generation"
	MsgEndedEarly     = "Generation ended unexpectedly"
	MsgCanceled       = "Generation canceled"
)

// DefaultPreviewLifetime applies when a completed event carries a preview
// without an expiry.
const DefaultPreviewLifetime = 10 * time.Minute

var (
	// ErrEmptyPrompt is returned by Start for a blank prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")
	// ErrSessionActive is returned by Start while a session is streaming.
	ErrSessionActive = errors.New("a generation is already in progress")
	// ErrNoArtifact is returned by DownloadArtifact before an artifact was decoded.
	ErrNoArtifact = errors.New("no artifact available")
	// ErrNoPreview is returned by preview operations when the session has none.
	ErrNoPreview = errors.New("no preview available")
	// ErrFailed wraps the failure message of a session that ended in PhaseFailed.
	ErrFailed = errors.New("generation failed")

	// errStopReading ends the read loop once the session is terminal or stale.
	errStopReading = errors.New("stop reading")
)

// Streamer opens the event stream for a prompt.
type Streamer interface {
	OpenStream(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// Controller owns the single live session and its preview. Each reaction
// (stream event, user action) runs to completion under opMu; state reads
// and writes happen under mu.
type Controller struct {
	opMu sync.Mutex
	mu   sync.Mutex

	baseURL    string
	httpClient *http.Client
	streamer   Streamer
	reporter   progress.Reporter
	clock      preview.Clock
	viewport   preview.Viewport
	display    preview.Display
	outDir     string
	logger     zerolog.Logger
	loggerSet  bool

	preview *preview.Manager

	gen        uint64
	previewGen uint64
	cancel     context.CancelFunc
	seq        uint64
	wg         sync.WaitGroup

	id        string
	messages  []message
	statusIdx int
	active    bool
	machine   progress.Machine
	art       artifactState
	savedPath string
}

type message = progress.Message

type artifactState struct {
	data    []byte
	ready   bool
	count   *int
	entries []artifact.Entry
	err     error
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the HTTP client used for the stream and the default
// preview viewport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = hc
	}
}

// WithStreamer replaces the HTTP stream source (useful for testing).
func WithStreamer(s Streamer) Option {
	return func(c *Controller) {
		c.streamer = s
	}
}

// WithReporter attaches an observer notified after every reaction.
func WithReporter(rp progress.Reporter) Option {
	return func(c *Controller) {
		c.reporter = rp
	}
}

// WithClock sets the time source of the preview manager.
func WithClock(clk preview.Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithViewport replaces the HTTP preview viewport.
func WithViewport(vp preview.Viewport) Option {
	return func(c *Controller) {
		c.viewport = vp
	}
}

// WithDisplay sets the fullscreen display for the preview.
func WithDisplay(d preview.Display) Option {
	return func(c *Controller) {
		c.display = d
	}
}

// WithOutDir sets where DownloadArtifact saves archives.
func WithOutDir(dir string) Option {
	return func(c *Controller) {
		c.outDir = dir
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
		c.loggerSet = true
	}
}

// New constructs a Controller for the service at baseURL.
// It applies sensible defaults for missing components.
func New(baseURL string, opts ...Option) *Controller {
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	c := &Controller{
		baseURL: strings.TrimRight(baseURL, "/"),
		outDir:  ".",
		logger:  log.WithComponent("session"),
	}
	for _, o := range opts {
		o(c)
	}

	var api *client.Client
	if c.streamer == nil || c.viewport == nil {
		api = client.New(baseURL, client.WithHTTPClient(c.httpClient))
		c.baseURL = api.BaseURL()
	}
	if c.streamer == nil {
		c.streamer = api
	}
	if c.viewport == nil {
		c.viewport = preview.NewHTTPViewport(api.HTTPClient(), c.baseURL)
	}

	popts := []preview.Option{
		preview.WithDisplay(c.display),
		preview.WithOnChange(c.report),
	}
	if c.loggerSet {
		popts = append(popts, preview.WithLogger(c.logger))
	}
	if c.clock != nil {
		popts = append(popts, preview.WithClock(c.clock))
	}
	c.preview = preview.NewManager(c.baseURL, c.viewport, popts...)
	return c
}

// Start begins a new session for prompt. The previous session, its stream
// and its preview are discarded first. Stream progress is reported through
// the Reporter; transport problems end the session as failed rather than
// being returned here.
func (c *Controller) Start(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	c.opMu.Lock()
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		c.opMu.Unlock()
		return ErrSessionActive
	}
	c.resetLocked()
	c.id = uuid.NewString()
	c.messages = []message{
		{Role: progress.RoleUser, Text: prompt},
		{Role: progress.RoleStatus, Text: ""},
	}
	c.statusIdx = 1
	c.active = true
	gen := c.gen
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	id := c.id
	c.mu.Unlock()

	c.preview.Deactivate()
	c.wg.Add(1)
	go c.consume(sctx, gen, prompt)
	c.opMu.Unlock()

	c.logger.Info().Str("session_id", id).Int("prompt_len", len(prompt)).Msg("session started")
	c.report()
	return nil
}

// Clear cancels the in-flight stream, tears down the preview and returns to
// an empty idle session.
func (c *Controller) Clear() {
	c.opMu.Lock()
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.preview.Deactivate()
	c.opMu.Unlock()

	c.report()
}

// Close clears the session and waits for background work to stop.
func (c *Controller) Close() {
	c.Clear()
	c.wg.Wait()
	c.preview.Close()
}

// DownloadArtifact saves the decoded archive under the output directory and
// returns its path. Failures are not retried.
func (c *Controller) DownloadArtifact() (string, error) {
	c.mu.Lock()
	if !c.art.ready {
		c.mu.Unlock()
		return "", ErrNoArtifact
	}
	data, dir, gen := c.art.data, c.outDir, c.gen
	c.mu.Unlock()

	path, err := artifact.Materialize(data, dir, artifact.DefaultName)
	if err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}

	c.mu.Lock()
	if gen == c.gen {
		c.savedPath = path
	}
	c.mu.Unlock()

	c.logger.Info().Str("path", path).Int("bytes", len(data)).Msg("artifact saved")
	c.report()
	return path, nil
}

// RefreshPreview reloads the session's preview.
func (c *Controller) RefreshPreview() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.ownsPreview() {
		return ErrNoPreview
	}
	return c.preview.Refresh()
}

// TogglePreviewFullscreen enters or leaves fullscreen preview display.
func (c *Controller) TogglePreviewFullscreen() (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.ownsPreview() {
		return false, ErrNoPreview
	}
	return c.preview.ToggleFullscreen()
}

// SyncFullscreen records a fullscreen change made by the host.
func (c *Controller) SyncFullscreen(actual bool) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.ownsPreview() {
		c.preview.SyncFullscreen(actual)
	}
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() progress.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) ownsPreview() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != 0 && c.previewGen == c.gen
}

// resetLocked discards the session. The generation bump turns every
// goroutine and task of the old session into a no-op.
func (c *Controller) resetLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.previewGen = 0
	c.id = ""
	c.messages = nil
	c.statusIdx = 0
	c.active = false
	c.machine.Reset()
	c.art = artifactState{}
	c.savedPath = ""
}

func (c *Controller) snapshotLocked() progress.Snapshot {
	c.seq++
	s := progress.Snapshot{
		Seq:             c.seq,
		ID:              c.id,
		Messages:        append([]message(nil), c.messages...),
		Active:          c.active,
		Phase:           c.machine.Phase(),
		Stage:           c.machine.Stage(),
		Message:         c.machine.Message(),
		ErrorCount:      c.machine.ErrorCount(),
		Iteration:       c.machine.Iteration(),
		Failure:         c.machine.Failure(),
		Artifact:        c.art.data,
		ArtifactReady:   c.art.ready,
		ArtifactEntries: append([]artifact.Entry(nil), c.art.entries...),
		ArtifactErr:     c.art.err,
		SavedPath:       c.savedPath,
	}
	if c.art.count != nil {
		n := *c.art.count
		s.ArtifactItemCount = &n
	}
	if c.gen != 0 && c.previewGen == c.gen {
		if st, ok := c.preview.State(); ok {
			s.Preview = &st
		}
	}
	return s
}

func (c *Controller) report() {
	if c.reporter == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.reporter.Update(snap)
}

func (c *Controller) emitResult(r progress.Result) {
	if c.reporter != nil {
		c.reporter.Result(r)
	}
}
