package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appgen/internal/log"
	"appgen/internal/metrics"
)

const apiBase = "http://localhost:8000"

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeViewport struct {
	mu         sync.Mutex
	loads      []string
	err        error
	block      bool
	empty      bool
	observable bool
}

func (v *fakeViewport) Load(ctx context.Context, url string) error {
	v.mu.Lock()
	v.loads = append(v.loads, url)
	block, err := v.block, v.err
	v.mu.Unlock()
	if url == blankURL {
		return nil
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (v *fakeViewport) Inspect() (bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.empty, v.observable
}

func (v *fakeViewport) Loads() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.loads...)
}

type fakeDisplay struct {
	enters, exits int
	err           error
}

func (d *fakeDisplay) Enter() error {
	if d.err != nil {
		return d.err
	}
	d.enters++
	return nil
}

func (d *fakeDisplay) Exit() error {
	d.exits++
	return nil
}

func newTestManager(t *testing.T, vp Viewport, opts ...Option) (*Manager, *ManualClock) {
	t.Helper()
	clock := NewManualClock(epoch)
	opts = append([]Option{WithClock(clock), WithLogger(log.Discard())}, opts...)
	m := NewManager(apiBase, vp, opts...)
	t.Cleanup(m.Close)
	return m, clock
}

func waitLoad(t *testing.T, m *Manager, want LoadState) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.State()
		return ok && st.Load == want
	}, 2*time.Second, 5*time.Millisecond, "load state never became %s", want)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "preview/abc", want: "http://localhost:8000/preview/abc"},
		{path: "/preview/abc", want: "http://localhost:8000/preview/abc"},
		{path: "https://cdn.example/p", want: "https://cdn.example/p"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL(apiBase+"/", tt.path), tt.path)
	}
}

func TestActivatePastExpiryIsImmediatelyExpired(t *testing.T) {
	vp := &fakeViewport{}
	m, clock := newTestManager(t, vp)

	st := m.Activate("/preview/old", "tok", epoch.Add(-time.Second))
	assert.True(t, st.Expired)
	assert.Equal(t, 0, st.Remaining)
	assert.Equal(t, "http://localhost:8000/preview/old", st.URL)
	assert.Equal(t, 0, clock.Pending(), "no countdown or load timeout scheduled")
	assert.Empty(t, vp.Loads(), "expired preview is never loaded")

	st = m.Activate("/preview/now", "tok", epoch)
	assert.True(t, st.Expired, "expiry equal to now counts as expired")
	assert.ErrorIs(t, m.Refresh(), ErrExpired)
}

func TestCountdownReachesZeroAndStops(t *testing.T) {
	vp := &fakeViewport{}
	m, clock := newTestManager(t, vp)

	st := m.Activate("/preview/p", "tok", epoch.Add(5*time.Second))
	require.False(t, st.Expired)
	assert.Equal(t, 5, st.Remaining)
	waitLoad(t, m, LoadHealthy)

	for want := 4; want >= 1; want-- {
		clock.Advance(time.Second)
		st, _ = m.State()
		assert.Equal(t, want, st.Remaining)
		assert.False(t, st.Expired)
	}
	clock.Advance(time.Second)
	st, _ = m.State()
	assert.True(t, st.Expired)
	assert.Equal(t, 0, st.Remaining)
	assert.Equal(t, 0, clock.Pending(), "countdown stopped")

	clock.Advance(time.Minute)
	st, _ = m.State()
	assert.Equal(t, 0, st.Remaining, "never negative")
}

func TestCountdownFractionalExpiry(t *testing.T) {
	m, clock := newTestManager(t, &fakeViewport{})

	st := m.Activate("/p", "", epoch.Add(1500*time.Millisecond))
	assert.Equal(t, 2, st.Remaining)
	clock.Advance(time.Second)
	st, _ = m.State()
	assert.Equal(t, 1, st.Remaining)
	clock.Advance(500 * time.Millisecond)
	st, _ = m.State()
	assert.True(t, st.Expired)
}

func TestLoadSucceeds(t *testing.T) {
	before := testutil.ToFloat64(metrics.PreviewLoads.WithLabelValues(metrics.LoadHealthy))
	vp := &fakeViewport{}
	m, clock := newTestManager(t, vp)

	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
	waitLoad(t, m, LoadHealthy)
	assert.Equal(t, []string{"http://localhost:8000/preview/p"}, vp.Loads())
	assert.Equal(t, 1, clock.Pending(), "only the countdown remains")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PreviewLoads.WithLabelValues(metrics.LoadHealthy)))
}

func TestLoadErrorFails(t *testing.T) {
	vp := &fakeViewport{err: errors.New("connection refused")}
	m, _ := newTestManager(t, vp)

	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
	waitLoad(t, m, LoadFailed)
}

func TestLoadTimeout(t *testing.T) {
	tests := []struct {
		name       string
		empty      bool
		observable bool
		want       LoadState
		result     string
	}{
		{name: "observable and empty", empty: true, observable: true, want: LoadFailed, result: metrics.LoadFailed},
		{name: "observable with content", empty: false, observable: true, want: LoadHealthy, result: metrics.LoadHealthy},
		{name: "not observable", empty: true, observable: false, want: LoadHealthy, result: metrics.LoadPresumed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.PreviewLoads.WithLabelValues(tt.result))
			vp := &fakeViewport{block: true, empty: tt.empty, observable: tt.observable}
			m, clock := newTestManager(t, vp)

			m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
			clock.Advance(ActivateTimeout - time.Second)
			st, _ := m.State()
			assert.Equal(t, LoadLoading, st.Load)

			clock.Advance(time.Second)
			st, _ = m.State()
			assert.Equal(t, tt.want, st.Load)
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.PreviewLoads.WithLabelValues(tt.result)))
		})
	}
}

func TestRefreshReloadsThroughBlank(t *testing.T) {
	vp := &fakeViewport{}
	m, _ := newTestManager(t, vp)

	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
	waitLoad(t, m, LoadHealthy)
	require.NoError(t, m.Refresh())
	require.Eventually(t, func() bool { return len(vp.Loads()) == 3 }, 2*time.Second, 5*time.Millisecond)
	url := "http://localhost:8000/preview/p"
	assert.Equal(t, []string{url, blankURL, url}, vp.Loads())
	waitLoad(t, m, LoadHealthy)
}

func TestRefreshUsesShorterTimeout(t *testing.T) {
	vp := &fakeViewport{block: true, empty: true, observable: true}
	m, clock := newTestManager(t, vp)

	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
	clock.Advance(3 * time.Second)
	require.NoError(t, m.Refresh())

	clock.Advance(RefreshTimeout - time.Second)
	st, _ := m.State()
	assert.Equal(t, LoadLoading, st.Load, "activation timeout was replaced by the refresh timeout")

	clock.Advance(time.Second)
	st, _ = m.State()
	assert.Equal(t, LoadFailed, st.Load)

	// a failed preview recovers through another refresh
	vp.mu.Lock()
	vp.block = false
	vp.mu.Unlock()
	require.NoError(t, m.Refresh())
	waitLoad(t, m, LoadHealthy)
}

func TestRefreshWithoutPreview(t *testing.T) {
	m, _ := newTestManager(t, &fakeViewport{})
	assert.ErrorIs(t, m.Refresh(), ErrInactive)
	_, err := m.ToggleFullscreen()
	assert.ErrorIs(t, err, ErrInactive)
}

func TestActivateReplacesPrevious(t *testing.T) {
	vp := &fakeViewport{block: true, observable: true, empty: true}
	m, clock := newTestManager(t, vp)

	first := m.Activate("/preview/a", "a", epoch.Add(10*time.Minute))
	second := m.Activate("/preview/b", "b", epoch.Add(10*time.Minute))
	assert.Greater(t, second.ID, first.ID)
	assert.Equal(t, 2, clock.Pending(), "only the new countdown and load timeout are live")

	clock.Advance(ActivateTimeout)
	st, ok := m.State()
	require.True(t, ok)
	assert.Equal(t, second.ID, st.ID)
	assert.Equal(t, "b", st.Token)
	assert.Equal(t, LoadFailed, st.Load)
}

func TestDeactivateCancelsTasks(t *testing.T) {
	var changes int
	var mu sync.Mutex
	vp := &fakeViewport{block: true}
	m, clock := newTestManager(t, vp, WithOnChange(func() {
		mu.Lock()
		changes++
		mu.Unlock()
	}))

	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))
	m.Deactivate()
	_, ok := m.State()
	assert.False(t, ok)
	assert.Equal(t, 0, clock.Pending())

	clock.Advance(time.Hour)
	_, ok = m.State()
	assert.False(t, ok)

	mu.Lock()
	assert.Equal(t, 2, changes)
	mu.Unlock()
}

func TestFullscreen(t *testing.T) {
	display := &fakeDisplay{}
	m, _ := newTestManager(t, &fakeViewport{}, WithDisplay(display))
	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))

	on, err := m.ToggleFullscreen()
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, 1, display.enters)

	// host left fullscreen on its own
	m.SyncFullscreen(false)
	st, _ := m.State()
	assert.False(t, st.Fullscreen)
	assert.Equal(t, 0, display.exits)

	on, err = m.ToggleFullscreen()
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, 2, display.enters)

	on, err = m.ToggleFullscreen()
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, 1, display.exits)

	_, err = m.ToggleFullscreen()
	require.NoError(t, err)
	m.Deactivate()
	assert.Equal(t, 2, display.exits, "deactivation leaves fullscreen")
}

func TestFullscreenEnterError(t *testing.T) {
	display := &fakeDisplay{err: errors.New("no display")}
	m, _ := newTestManager(t, &fakeViewport{}, WithDisplay(display))
	m.Activate("/preview/p", "tok", epoch.Add(10*time.Minute))

	on, err := m.ToggleFullscreen()
	require.Error(t, err)
	assert.False(t, on)
	st, _ := m.State()
	assert.False(t, st.Fullscreen)
}

func TestLoadStateString(t *testing.T) {
	assert.Equal(t, "loading", LoadLoading.String())
	assert.Equal(t, "healthy", LoadHealthy.String())
	assert.Equal(t, "failed", LoadFailed.String())
}
