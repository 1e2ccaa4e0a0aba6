package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#7D56F4")
	colorOK      = lipgloss.Color("#04B575")
	colorWarn    = lipgloss.Color("#FFB000")
	colorError   = lipgloss.Color("#FF5F87")
	colorMuted   = lipgloss.Color("#626262")
	colorRemote  = lipgloss.Color("#00AFFF")
	colorUser    = lipgloss.Color("#D7D7D7")
	colorAgentFG = lipgloss.Color("#FFFFFF")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle      = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	remoteStyle  = lipgloss.NewStyle().Foreground(colorRemote).Bold(true)
	userStyle    = lipgloss.NewStyle().Foreground(colorUser)
	agentStyle   = lipgloss.NewStyle().Foreground(colorAgentFG).Bold(true)
	partialStyle = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	barsStyle    = lipgloss.NewStyle().Foreground(colorAccent)
	helpStyle    = lipgloss.NewStyle().Foreground(colorMuted)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)
