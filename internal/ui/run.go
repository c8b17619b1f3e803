package ui

import (
	"context"
	"net/http"

	tea "github.com/charmbracelet/bubbletea"

	"appgen/internal/log"
	"appgen/internal/session"
	"appgen/internal/util"
	"appgen/internal/util/deps"
)

// Options configures a TUI run.
type Options struct {
	BaseURL    string
	OutDir     string
	Prompt     string // started right away when non-empty
	HTTPClient *http.Client
	OpenerPath string // optional explicit browser opener
}

// Run launches the TUI and blocks until the user quits. It returns an error
// wrapping session.ErrFailed when the last session failed.
func Run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := log.WithComponent("ui")

	eventCh := make(chan tea.Msg, 256)
	display := &paneDisplay{}
	ctrl := session.New(opts.BaseURL,
		session.WithHTTPClient(opts.HTTPClient),
		session.WithReporter(teaReporter{ch: eventCh, done: ctx.Done()}),
		session.WithDisplay(display),
		session.WithOutDir(opts.OutDir),
	)

	m := NewModel(ctx, ctrl, eventCh, opts.Prompt)
	m.display = display
	if opener, err := deps.FindOpener(opts.OpenerPath); err == nil {
		m.open = func(ctx context.Context, url string) error {
			return util.OpenURL(ctx, opener, url)
		}
	} else {
		logger.Debug().Err(err).Msg("no browser opener; ctrl+o disabled")
	}

	prog := tea.NewProgram(m, tea.WithContext(ctx))
	final, err := prog.Run()
	// stop the reporter before tearing the session down
	cancel()
	ctrl.Close()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok {
		return fm.failed()
	}
	return nil
}
