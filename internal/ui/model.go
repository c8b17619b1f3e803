package ui

import (
	"context"
	"fmt"
	"time"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"appgen/internal/preview"
	"appgen/internal/progress"
	"appgen/internal/session"
)

// Controller is the part of session.Controller the UI drives.
type Controller interface {
	Start(ctx context.Context, prompt string) error
	Clear()
	DownloadArtifact() (string, error)
	RefreshPreview() error
	TogglePreviewFullscreen() (bool, error)
	SyncFullscreen(actual bool)
	Snapshot() progress.Snapshot
}

// Opener opens a URL outside the terminal.
type Opener func(ctx context.Context, url string) error

type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	ctrl    Controller
	display *paneDisplay
	open    Opener
	prompt  string // started automatically when non-empty

	snap   progress.Snapshot
	result *progress.Result
	notice string
	errMsg string

	// UI
	input         textinput.Model
	spinner       spinner.Model
	bar           bubblesprogress.Model
	width, height int
	styles        Styles

	// Internal event channel used by reporter to feed tea messages
	eventCh chan tea.Msg
}

func NewModel(ctx context.Context, ctrl Controller, eventCh chan tea.Msg, prompt string) Model {
	c, cancel := context.WithCancel(ctx)
	sty := defaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Describe the web app to generate…"
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Style = sty.Spinner

	if eventCh == nil {
		eventCh = make(chan tea.Msg, 256)
	}
	return Model{
		ctx:     c,
		cancel:  cancel,
		ctrl:    ctrl,
		display: &paneDisplay{},
		prompt:  prompt,
		snap:    ctrl.Snapshot(),
		input:   ti,
		spinner: sp,
		bar:     bubblesprogress.New(bubblesprogress.WithDefaultGradient(), bubblesprogress.WithWidth(40)),
		styles:  sty,
		eventCh: eventCh,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.listenEventsCmd()}
	if m.prompt != "" {
		cmds = append(cmds, m.startCmd(m.prompt))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.display.resize(msg.Width, msg.Height)
		if w := msg.Width - 24; w > 10 {
			m.bar.Width = min(w, 60)
		}
		m.input.Width = max(msg.Width-4, 20)
		return m, nil

	case snapshotMsg:
		// reports from timer and stream goroutines may arrive out of order
		if msg.S.Seq >= m.snap.Seq {
			m.snap = msg.S
		}
		return m, m.listenEventsCmd()

	case resultMsg:
		r := msg.R
		m.result = &r
		return m, m.listenEventsCmd()

	case actionMsg:
		m.notice, m.errMsg = msg.Notice, ""
		if msg.Err != nil {
			m.notice, m.errMsg = "", msg.Err.Error()
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil

	case allDoneMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "esc":
		if p := m.snap.Preview; p != nil && p.Fullscreen {
			// leaving the pane with esc bypasses ToggleFullscreen
			m.ctrl.SyncFullscreen(false)
			m.snap = m.ctrl.Snapshot()
		}
		return m, nil
	case "enter":
		prompt := m.input.Value()
		if m.snap.Active {
			m.errMsg = session.ErrSessionActive.Error()
			return m, nil
		}
		m.input.Reset()
		m.result = nil
		return m, m.startCmd(prompt)
	case "ctrl+l":
		m.input.Reset()
		m.result = nil
		return m, m.actionCmd(func() (string, error) {
			m.ctrl.Clear()
			return "", nil
		})
	case "ctrl+d":
		return m, m.actionCmd(func() (string, error) {
			path, err := m.ctrl.DownloadArtifact()
			if err != nil {
				return "", err
			}
			return "Saved " + path, nil
		})
	case "ctrl+r":
		return m, m.actionCmd(func() (string, error) {
			if err := m.ctrl.RefreshPreview(); err != nil {
				return "", err
			}
			return "Refreshing preview…", nil
		})
	case "ctrl+f":
		return m, m.actionCmd(func() (string, error) {
			_, err := m.ctrl.TogglePreviewFullscreen()
			return "", err
		})
	case "ctrl+o":
		p := m.snap.Preview
		if p == nil || m.open == nil {
			return m, nil
		}
		if p.Expired {
			m.errMsg = preview.ErrExpired.Error()
			return m, nil
		}
		url := p.URL
		return m, m.actionCmd(func() (string, error) {
			ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
			defer cancel()
			if err := m.open(ctx, url); err != nil {
				return "", fmt.Errorf("open preview: %w", err)
			}
			return "Opened " + url, nil
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if p := m.snap.Preview; p != nil && p.Fullscreen {
		return m.viewFullscreen(*p)
	}
	return m.viewHeader() + "\n\n" + m.viewBody() + "\n" + m.viewFooter()
}

func (m Model) startCmd(prompt string) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.Start(m.ctx, prompt); err != nil {
			return actionMsg{Err: err}
		}
		return actionMsg{Notice: ""}
	}
}

func (m Model) actionCmd(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		notice, err := fn()
		return actionMsg{Notice: notice, Err: err}
	}
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return allDoneMsg{}
		case msg := <-m.eventCh:
			return msg
		}
	}
}

// failed reports whether the final session ended in failure.
func (m Model) failed() error {
	if m.snap.Phase != progress.PhaseFailed {
		return nil
	}
	return fmt.Errorf("%w: %s", session.ErrFailed, m.snap.Failure)
}
