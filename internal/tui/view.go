package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/turns"
)

const helpLine = "enter send • ctrl+t connect • ctrl+x mute • ctrl+r mode • ctrl+o voice • ctrl+g focus • esc quit"

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{
		m.renderStatus(),
		m.renderDisplay(),
		panelStyle.Width(max(10, m.width-2)).Render(m.history.View()),
		m.input.View(),
	}
	if m.lastErr != "" {
		sections = append(sections, errorStyle.Render(m.lastErr))
	}
	sections = append(sections, helpStyle.Render(helpLine))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatus() string {
	cfg := m.console.Config()

	mic := okStyle.Render("mic on")
	if m.console.Muted() {
		mic = warnStyle.Render("mic muted")
	}

	meeting := labelStyle.Render("no meeting")
	if id := m.console.MeetingID(); id != "" {
		style := warnStyle
		if m.console.RelayConnected() {
			style = remoteStyle
		}
		meeting = style.Render("meeting " + id)
	}

	focus := ""
	if cfg.VoiceFocus {
		focus = " " + okStyle.Render("focus")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("EMA LIVE"), "  ",
		stateLabel(m.console.State()), "  ",
		mic, "  ",
		meeting, "  ",
		labelStyle.Render(fmt.Sprintf("%s • %s • %s", cfg.EffectiveMode(), config.Language(cfg.Language).Name, cfg.Voice)),
		focus,
	)
}

func stateLabel(state session.State) string {
	switch state {
	case session.StateOpen:
		return okStyle.Render("● live")
	case session.StateConnecting, session.StateClosing:
		return warnStyle.Render("◌ " + state.String())
	case session.StateError:
		return errorStyle.Render("✕ error")
	}
	return labelStyle.Render("○ idle")
}

func (m Model) renderDisplay() string {
	display := m.console.Display()
	width := max(10, m.width-4)

	in := barsStyle.Render(RenderBars(Bars(m.console.InputVolume(), InputBars, m.phase)))
	out := barsStyle.Render(RenderBars(Bars(m.console.OutputVolume(), OutputBars, m.phase)))

	heard := display.Transcription()
	if heard == "" {
		heard = partialStyle.Render("listening...")
	} else {
		heard = userStyle.Render(wordwrap.String(heard, width-8))
	}

	spoken := display.Translation
	if spoken == "" {
		spoken = partialStyle.Render("...")
	} else {
		spoken = agentStyle.Render(wordwrap.String(spoken, width-8))
	}

	var meta []string
	if display.DetectedLanguage != "" {
		meta = append(meta, labelStyle.Render("detected "+display.DetectedLanguage))
	}
	if display.RemoteInput {
		meta = append(meta, remoteStyle.Render("REMOTE"))
	}
	if display.Speaking {
		meta = append(meta, okStyle.Render("speaking"))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, in, "  ", heard),
		lipgloss.JoinHorizontal(lipgloss.Top, out, "  ", spoken),
		strings.Join(meta, "  "),
	)
	return panelStyle.Width(width + 2).Render(body)
}

func renderHistory(log []turns.Turn, width int) string {
	if len(log) == 0 {
		return partialStyle.Render("No turns yet.")
	}

	var b strings.Builder
	for i, turn := range log {
		if i > 0 {
			b.WriteString("\n")
		}
		label, style := "you  ", userStyle
		if turn.Role == turns.RoleAgent {
			label, style = "agent", agentStyle
		}
		if !turn.IsFinal {
			style = partialStyle
		}
		text := wordwrap.String(turn.Text, max(10, width-8))
		text = strings.ReplaceAll(text, "\n", "\n       ")
		b.WriteString(labelStyle.Render(label) + "  " + style.Render(text))
	}
	return b.String()
}
