package ui

import (
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"appgen/internal/progress"
)

// teaReporter forwards controller notifications into the program.
type teaReporter struct {
	ch   chan tea.Msg
	done <-chan struct{}
}

func (r teaReporter) Update(s progress.Snapshot) {
	// Terminal snapshots must arrive; intermediate ones may be superseded.
	if s.Phase.Terminal() {
		select {
		case r.ch <- snapshotMsg{S: s}:
		case <-r.done:
		}
		return
	}
	select {
	case r.ch <- snapshotMsg{S: s}:
	default:
	}
}

func (r teaReporter) Result(res progress.Result) {
	select {
	case r.ch <- resultMsg{R: res}:
	case <-r.done:
	}
}

// Minimum terminal size for the fullscreen preview pane.
const (
	minFullscreenWidth  = 40
	minFullscreenHeight = 10
)

// paneDisplay expands the preview pane to the whole terminal. The pane itself
// is drawn from the snapshot; the display only decides whether it fits.
type paneDisplay struct {
	width, height atomic.Int64
}

func (d *paneDisplay) resize(w, h int) {
	d.width.Store(int64(w))
	d.height.Store(int64(h))
}

func (d *paneDisplay) Enter() error {
	w, h := d.width.Load(), d.height.Load()
	if w == 0 && h == 0 {
		// size not reported yet
		return nil
	}
	if w < minFullscreenWidth || h < minFullscreenHeight {
		return fmt.Errorf("terminal too small for fullscreen preview (%dx%d)", w, h)
	}
	return nil
}

func (d *paneDisplay) Exit() error { return nil }
