package ui

import (
	"fmt"
	"strings"

	"appgen/internal/preview"
	"appgen/internal/progress"
	"appgen/internal/util/format"
)

// maxListedEntries caps the archive listing in the summary.
const maxListedEntries = 8

func (m Model) viewHeader() string {
	title := m.styles.Title.Render("appgen · web app generator")
	sub := m.styles.Subtitle.Render("enter: generate • ctrl+d: save • ctrl+r: refresh preview • ctrl+f: fullscreen • ctrl+l: clear • ctrl+c: quit")
	return title + "\n" + sub
}

func (m Model) viewBody() string {
	var b strings.Builder
	b.WriteString(m.viewMessages())
	if m.snap.Phase != progress.PhaseIdle || m.snap.Active {
		b.WriteString("\n")
		b.WriteString(m.viewStages())
	}
	if s := m.viewArtifact(); s != "" {
		b.WriteString("\n")
		b.WriteString(s)
	}
	if p := m.snap.Preview; p != nil {
		b.WriteString("\n")
		b.WriteString(m.viewPreview(*p))
	}
	return b.String()
}

func (m Model) viewMessages() string {
	var b strings.Builder
	for i, msg := range m.snap.Messages {
		switch msg.Role {
		case progress.RoleUser:
			b.WriteString(m.styles.User.Render("you › " + msg.Text))
		default:
			text := msg.Text
			last := i == len(m.snap.Messages)-1
			switch {
			case last && m.snap.Phase == progress.PhaseFailed:
				b.WriteString(m.styles.Error.Render("✗ " + text))
			case last && m.snap.Phase == progress.PhaseCompleted:
				b.WriteString(m.styles.Success.Render("✓ " + text))
			case last && m.snap.Active:
				if text == "" {
					text = "Waiting for the generation service…"
				}
				b.WriteString(m.styles.Spinner.Render(m.spinner.View()) + " " + m.styles.Status.Render(text))
			default:
				b.WriteString(m.styles.Status.Render(text))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewStages() string {
	current := m.snap.Stage.Index()
	var b strings.Builder
	for i, st := range progress.Stages {
		var line string
		switch {
		case i < current || (i == current && m.snap.Phase == progress.PhaseCompleted):
			line = m.styles.StageDone.Render("✓ " + st.Label())
		case i == current:
			line = m.styles.StageNow.Render("▶ " + st.Label())
		default:
			line = m.styles.Faint.Render("· " + st.Label())
		}
		b.WriteString("  " + line + "\n")
	}
	if m.snap.Stage == progress.StageUnknown {
		b.WriteString("  " + m.styles.Warning.Render("? unrecognised stage") + "\n")
	}

	done := float64(current+1) / float64(len(progress.Stages))
	if current < 0 {
		done = 0
	}
	if m.snap.Phase == progress.PhaseCompleted {
		done = 1
	}
	b.WriteString("  " + m.bar.ViewAs(done))

	var counters []string
	if m.snap.Iteration > 0 {
		counters = append(counters, fmt.Sprintf("iteration %d", m.snap.Iteration))
	}
	if m.snap.ErrorCount > 0 {
		counters = append(counters, fmt.Sprintf("%d error(s) left", m.snap.ErrorCount))
	}
	if len(counters) > 0 {
		b.WriteString("  " + m.styles.Faint.Render(strings.Join(counters, " • ")))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) viewArtifact() string {
	s := m.snap
	if s.ArtifactErr != nil {
		return m.styles.Error.Render("Artifact could not be decoded: "+s.ArtifactErr.Error()) + "\n"
	}
	if !s.ArtifactReady {
		return ""
	}
	var b strings.Builder
	line := "Artifact: " + format.HumanizeBytes(int64(len(s.Artifact)))
	if s.ArtifactItemCount != nil {
		line += fmt.Sprintf(", %d files", *s.ArtifactItemCount)
	}
	b.WriteString(m.styles.Header.Render(line))
	if s.SavedPath != "" {
		b.WriteString("  " + m.styles.Success.Render("saved to "+s.SavedPath))
	} else {
		b.WriteString("  " + m.styles.Faint.Render("ctrl+d to save"))
	}
	b.WriteString("\n")
	for i, e := range s.ArtifactEntries {
		if i == maxListedEntries {
			b.WriteString(m.styles.Faint.Render(fmt.Sprintf("  … and %d more", len(s.ArtifactEntries)-maxListedEntries)) + "\n")
			break
		}
		b.WriteString(m.styles.Faint.Render(fmt.Sprintf("  %s (%s)", e.Name, format.HumanizeBytes(int64(e.Size)))) + "\n")
	}
	return b.String()
}

func (m Model) viewPreview(p preview.State) string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Preview ") + m.styles.Link.Render(p.URL) + "\n")
	if p.Expired {
		b.WriteString(m.styles.Warning.Render("  Preview expired. Generate again for a fresh one.") + "\n")
		return b.String()
	}
	var load string
	switch p.Load {
	case preview.LoadLoading:
		load = m.styles.Spinner.Render(m.spinner.View()) + " loading"
	case preview.LoadHealthy:
		load = m.styles.Success.Render("● live")
	case preview.LoadFailed:
		load = m.styles.Error.Render("● failed to load (ctrl+r to retry)")
	}
	b.WriteString(fmt.Sprintf("  %s • expires in %s\n", load, format.Countdown(p.Remaining)))
	return b.String()
}

func (m Model) viewFullscreen(p preview.State) string {
	body := m.viewPreview(p)
	box := m.styles.Box
	if m.width > 0 && m.height > 0 {
		box = box.Width(m.width - 2).Height(m.height - 2)
	}
	return box.Render(body + "\n" + m.styles.Faint.Render("esc or ctrl+f: leave fullscreen • ctrl+o: open in browser"))
}

func (m Model) viewFooter() string {
	var b strings.Builder
	if m.errMsg != "" {
		b.WriteString(m.styles.Error.Render(m.errMsg) + "\n")
	} else if m.notice != "" {
		b.WriteString(m.styles.Success.Render(m.notice) + "\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}
