package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"appgen/internal/progress"
)

// lineReporter prints one line per visible progress change. It is the
// non-interactive counterpart of the TUI's reporter.
type lineReporter struct {
	mu   sync.Mutex
	out  io.Writer
	last string

	changed chan struct{}
	results chan progress.Result
}

func newLineReporter(out io.Writer) *lineReporter {
	return &lineReporter{
		out:     out,
		changed: make(chan struct{}, 1),
		results: make(chan progress.Result, 1),
	}
}

func (r *lineReporter) Update(s progress.Snapshot) {
	if line := progressLine(s); line != "" {
		r.mu.Lock()
		if line != r.last {
			fmt.Fprintln(r.out, line)
			r.last = line
		}
		r.mu.Unlock()
	}
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *lineReporter) Result(res progress.Result) {
	select {
	case r.results <- res:
	default:
	}
}

func (r *lineReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// progressLine renders the part of s that plain output tracks.
func progressLine(s progress.Snapshot) string {
	switch s.Phase {
	case progress.PhaseRunning:
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s", s.Stage.Label(), s.Message)
		var extra []string
		if s.Iteration > 0 {
			extra = append(extra, fmt.Sprintf("iteration %d", s.Iteration))
		}
		if s.ErrorCount > 0 {
			extra = append(extra, fmt.Sprintf("%d errors left", s.ErrorCount))
		}
		if len(extra) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extra, ", "))
		}
		return b.String()
	case progress.PhaseCompleted:
		return "✓ " + s.Message
	case progress.PhaseFailed:
		return "✗ " + s.Failure
	}
	return ""
}
