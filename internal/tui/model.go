// Package tui is the terminal front end of the live console.
package tui

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/turns"
)

const (
	tickInterval  = 50 * time.Millisecond
	actionTimeout = 15 * time.Second
	headerHeight  = 9
	footerHeight  = 4
)

// Console is the part of the live console the terminal drives.
type Console interface {
	Toggle(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	SetMuted(muted bool)
	Muted() bool
	UpdateConfig(cfg config.Snapshot) error
	Config() config.Snapshot
	State() session.State
	Display() turns.Display
	Turns() []turns.Turn
	TurnsVersion() uint64
	InputVolume() float64
	OutputVolume() float64
	MeetingID() string
	RelayConnected() bool
}

type tickMsg time.Time

type actionResultMsg struct {
	action string
	err    error
}

type Model struct {
	console Console

	input    textinput.Model
	history  viewport.Model
	width    int
	height   int
	ready    bool
	phase    float64
	version  uint64
	lastErr  string
	quitting bool
}

func New(console Console) Model {
	input := textinput.New()
	input.Placeholder = "Type a prompt and press enter"
	input.CharLimit = 2000
	input.Focus()

	// The composer owns letter keys; history only pages.
	history := viewport.New(80, 10)
	history.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	return Model{
		console: console,
		input:   input,
		history: history,
		width:   80,
		version: ^uint64(0),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, msg.Width-6)
		m.history.Width = max(10, msg.Width-4)
		m.history.Height = max(3, msg.Height-headerHeight-footerHeight)
		m.ready = true
		m.refreshHistory(true)

	case tickMsg:
		m.phase += 0.35
		m.refreshHistory(false)
		cmds = append(cmds, tick())

	case actionResultMsg:
		if msg.err != nil {
			m.lastErr = msg.action + ": " + msg.err.Error()
		} else {
			m.lastErr = ""
		}

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.history, cmd = m.history.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return tea.Quit, true

	case "enter":
		text := m.input.Value()
		if text == "" {
			return nil, true
		}
		m.input.Reset()
		return m.run("send", func(ctx context.Context) error {
			return m.console.SendText(ctx, text)
		}), true

	case "ctrl+t":
		return m.run("connect", m.console.Toggle), true

	case "ctrl+x":
		m.console.SetMuted(!m.console.Muted())
		return nil, true

	case "ctrl+r":
		cfg := m.console.Config()
		next := config.ModeTranscribe
		if cfg.EffectiveMode() == config.ModeTranscribe {
			next = config.ModeTranslate
		}
		m.reconfigure(cfg.WithMode(next))
		return nil, true

	case "ctrl+o":
		cfg := m.console.Config()
		m.reconfigure(cfg.WithVoice(nextVoice(cfg.Voice)))
		return nil, true

	case "ctrl+g":
		cfg := m.console.Config()
		m.reconfigure(cfg.WithVoiceFocus(!cfg.VoiceFocus))
		return nil, true
	}
	return nil, false
}

func (m *Model) reconfigure(cfg config.Snapshot) {
	if err := m.console.UpdateConfig(cfg); err != nil {
		m.lastErr = "settings: " + err.Error()
		return
	}
	m.lastErr = ""
}

// run executes a blocking console action off the update loop.
func (m *Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := fn(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return actionResultMsg{action: action, err: err}
	}
}

func (m *Model) refreshHistory(force bool) {
	version := m.console.TurnsVersion()
	if !force && version == m.version {
		return
	}
	m.version = version
	atBottom := m.history.AtBottom()
	m.history.SetContent(renderHistory(m.console.Turns(), m.history.Width))
	if atBottom || force {
		m.history.GotoBottom()
	}
}

func nextVoice(current string) string {
	voices := config.Voices()
	i := slices.Index(voices, current)
	return voices[(i+1)%len(voices)]
}
