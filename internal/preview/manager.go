// Package preview owns the lifecycle of the single time-boxed preview of a
// generated site: countdown to expiry, load health detection, manual refresh
// and fullscreen display.
package preview

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"appgen/internal/log"
	"appgen/internal/metrics"
	"appgen/internal/util"
)

const (
	// ActivateTimeout bounds the first load of a new preview.
	ActivateTimeout = 15 * time.Second
	// RefreshTimeout bounds a load started by Refresh.
	RefreshTimeout = 10 * time.Second
	// TickInterval is the countdown resolution.
	TickInterval = time.Second

	blankURL = "about:blank"
)

var (
	// ErrInactive is returned when no preview is active.
	ErrInactive = errors.New("no active preview")
	// ErrExpired is returned when the active preview has expired.
	ErrExpired = errors.New("preview expired")
)

// LoadState is the health of the preview as seen by the viewport.
type LoadState int

const (
	LoadLoading LoadState = iota
	LoadHealthy
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadLoading:
		return "loading"
	case LoadHealthy:
		return "healthy"
	case LoadFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// State is a copy of the live preview session.
type State struct {
	ID         uint64
	URL        string
	Token      string
	ExpiresAt  time.Time
	Load       LoadState
	Expired    bool
	Remaining  int // whole seconds, never negative
	Fullscreen bool
}

// Viewport loads preview content and reports what it can see of it.
type Viewport interface {
	Load(ctx context.Context, url string) error
	// Inspect reports whether the loaded document is empty, and whether the
	// viewport is able to observe the document at all.
	Inspect() (empty, observable bool)
}

// Display gives the preview exclusive use of the screen.
type Display interface {
	Enter() error
	Exit() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source used by the countdown and load timeouts.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithDisplay sets the fullscreen display.
func WithDisplay(d Display) Option {
	return func(m *Manager) {
		if d != nil {
			m.display = d
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithOnChange registers a callback invoked, without locks held, after every
// state change including timer-driven ones.
func WithOnChange(fn func()) Option {
	return func(m *Manager) { m.onChange = fn }
}

// Manager owns at most one preview at a time. Every scheduled task carries
// the preview ID (and load sequence) it was created for; tasks whose preview
// has been replaced do nothing.
type Manager struct {
	mu sync.Mutex

	base     string
	viewport Viewport
	display  Display
	clock    Clock
	logger   zerolog.Logger
	onChange func()

	nextID     uint64
	active     bool
	state      State
	countdown  Timer
	loadTimer  Timer
	loadCancel context.CancelFunc
	loadSeq    uint64

	wg sync.WaitGroup
}

// NewManager creates a Manager resolving relative preview paths against base.
func NewManager(base string, vp Viewport, opts ...Option) *Manager {
	if vp == nil {
		vp = nopViewport{}
	}
	m := &Manager{
		base:     base,
		viewport: vp,
		display:  nopDisplay{},
		clock:    RealClock{},
		logger:   log.WithComponent("preview"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveURL returns path unchanged when it is an absolute http(s) URL and
// otherwise joins it to base with exactly one slash.
func ResolveURL(base, path string) string {
	return util.JoinURL(base, path)
}

// Activate replaces any current preview with a new one. A preview whose
// expiry has already passed is reported expired at once and is never loaded.
func (m *Manager) Activate(path, token string, expiresAt time.Time) State {
	m.mu.Lock()
	m.teardownLocked()
	m.nextID++
	id := m.nextID
	now := m.clock.Now()

	m.active = true
	m.state = State{
		ID:        id,
		URL:       ResolveURL(m.base, path),
		Token:     token,
		ExpiresAt: expiresAt,
		Load:      LoadLoading,
	}

	if !now.Before(expiresAt) {
		m.state.Expired = true
		m.logger.Info().Uint64("preview_id", id).Str("url", m.state.URL).Msg("preview already expired")
	} else {
		m.state.Remaining = remainingSeconds(expiresAt, now)
		m.scheduleTickLocked(id, now)
		m.startLoadLocked(id, ActivateTimeout, false)
		m.logger.Info().
			Uint64("preview_id", id).
			Str("url", m.state.URL).
			Int("remaining_s", m.state.Remaining).
			Msg("preview activated")
	}
	st := m.state
	m.mu.Unlock()

	m.notify()
	return st
}

// Refresh reloads the preview through about:blank so that an unchanged
// address is fetched again.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return ErrInactive
	}
	if m.state.Expired {
		m.mu.Unlock()
		return ErrExpired
	}
	m.stopLoadLocked()
	m.startLoadLocked(m.state.ID, RefreshTimeout, true)
	m.logger.Debug().Uint64("preview_id", m.state.ID).Msg("preview refresh")
	m.mu.Unlock()

	m.notify()
	return nil
}

// ToggleFullscreen enters or leaves fullscreen and returns the new setting.
func (m *Manager) ToggleFullscreen() (bool, error) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return false, ErrInactive
	}
	want := !m.state.Fullscreen
	if want && m.state.Expired {
		m.mu.Unlock()
		return false, ErrExpired
	}
	var err error
	if want {
		err = m.display.Enter()
	} else {
		err = m.display.Exit()
	}
	if err != nil {
		cur := m.state.Fullscreen
		m.mu.Unlock()
		return cur, err
	}
	m.state.Fullscreen = want
	m.mu.Unlock()

	m.notify()
	return want, nil
}

// SyncFullscreen records the actual fullscreen state when the host changed
// it without going through ToggleFullscreen.
func (m *Manager) SyncFullscreen(actual bool) {
	m.mu.Lock()
	if !m.active || m.state.Fullscreen == actual {
		m.mu.Unlock()
		return
	}
	m.state.Fullscreen = actual
	m.mu.Unlock()

	m.notify()
}

// Deactivate cancels the countdown and any pending load and forgets the
// preview.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.active = false
	m.state = State{}
	m.mu.Unlock()

	m.notify()
}

// Close deactivates the preview and waits for in-flight loads to return.
func (m *Manager) Close() {
	m.Deactivate()
	m.wg.Wait()
}

// State returns a copy of the current preview, if any.
func (m *Manager) State() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.active
}

func (m *Manager) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}

func (m *Manager) teardownLocked() {
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
	m.stopLoadLocked()
	if m.active && m.state.Fullscreen {
		if err := m.display.Exit(); err != nil {
			m.logger.Warn().Err(err).Msg("leave fullscreen")
		}
	}
}

func (m *Manager) stopLoadLocked() {
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	if m.loadCancel != nil {
		m.loadCancel()
		m.loadCancel = nil
	}
}

func (m *Manager) scheduleTickLocked(id uint64, now time.Time) {
	next := TickInterval
	if left := m.state.ExpiresAt.Sub(now); left < next {
		next = left
	}
	m.countdown = m.clock.AfterFunc(next, func() { m.tick(id) })
}

func (m *Manager) tick(id uint64) {
	m.mu.Lock()
	if !m.active || m.state.ID != id || m.state.Expired {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.state.Remaining = remainingSeconds(m.state.ExpiresAt, now)
	if m.state.Remaining == 0 {
		m.state.Expired = true
		m.countdown = nil
		m.stopLoadLocked()
		m.logger.Info().Uint64("preview_id", id).Msg("preview expired")
	} else {
		m.scheduleTickLocked(id, now)
	}
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) startLoadLocked(id uint64, timeout time.Duration, viaBlank bool) {
	m.loadSeq++
	seq := m.loadSeq
	ctx, cancel := context.WithCancel(context.Background())
	m.loadCancel = cancel
	m.state.Load = LoadLoading
	m.loadTimer = m.clock.AfterFunc(timeout, func() { m.loadTimedOut(id, seq) })

	url := m.state.URL
	vp := m.viewport
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var err error
		if viaBlank {
			err = vp.Load(ctx, blankURL)
		}
		if err == nil {
			err = vp.Load(ctx, url)
		}
		m.loadFinished(id, seq, err)
	}()
}

// pendingLoadLocked reports whether the load identified by (id, seq) is the
// one the preview is still waiting on.
func (m *Manager) pendingLoadLocked(id, seq uint64) bool {
	return m.active && m.state.ID == id && m.loadSeq == seq &&
		!m.state.Expired && m.state.Load == LoadLoading
}

func (m *Manager) loadFinished(id, seq uint64, err error) {
	m.mu.Lock()
	if !m.pendingLoadLocked(id, seq) {
		m.mu.Unlock()
		return
	}
	m.stopLoadLocked()
	if err != nil {
		m.state.Load = LoadFailed
		metrics.PreviewLoads.WithLabelValues(metrics.LoadFailed).Inc()
		m.logger.Warn().Err(err).Uint64("preview_id", id).Msg("preview load failed")
	} else {
		m.state.Load = LoadHealthy
		metrics.PreviewLoads.WithLabelValues(metrics.LoadHealthy).Inc()
		m.logger.Debug().Uint64("preview_id", id).Msg("preview loaded")
	}
	m.mu.Unlock()

	m.notify()
}

func (m *Manager) loadTimedOut(id, seq uint64) {
	m.mu.Lock()
	if !m.pendingLoadLocked(id, seq) {
		m.mu.Unlock()
		return
	}
	m.loadTimer = nil
	m.stopLoadLocked()

	empty, observable := m.viewport.Inspect()
	switch {
	case observable && empty:
		m.state.Load = LoadFailed
		metrics.PreviewLoads.WithLabelValues(metrics.LoadFailed).Inc()
		m.logger.Warn().Uint64("preview_id", id).Msg("preview load timed out with empty content")
	case observable:
		m.state.Load = LoadHealthy
		metrics.PreviewLoads.WithLabelValues(metrics.LoadHealthy).Inc()
	default:
		// Content we cannot see into is assumed to have loaded.
		m.state.Load = LoadHealthy
		metrics.PreviewLoads.WithLabelValues(metrics.LoadPresumed).Inc()
		m.logger.Debug().Uint64("preview_id", id).Msg("preview not observable, presumed healthy")
	}
	m.mu.Unlock()

	m.notify()
}

func remainingSeconds(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

type nopViewport struct{}

func (nopViewport) Load(context.Context, string) error { return nil }
func (nopViewport) Inspect() (bool, bool)              { return false, false }

type nopDisplay struct{}

func (nopDisplay) Enter() error { return nil }
func (nopDisplay) Exit() error  { return nil }
