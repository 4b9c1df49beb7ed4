package tui

import "github.com/charmbracelet/lipgloss"

// Role colors, consistent across the transcript and the tab bar.
var (
	userColor      = lipgloss.AdaptiveColor{Light: "#FB923C", Dark: "#FB923C"}
	assistantColor = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#179299"}
	systemColor    = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}
	accentColor    = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"}
)

var (
	roleStyle = lipgloss.NewStyle().Bold(true)

	userMessageStyle = lipgloss.NewStyle().Foreground(userColor)

	toolCallStyle = lipgloss.NewStyle().Foreground(mutedColor)

	spinnerStyle = lipgloss.NewStyle().Foreground(accentColor)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#FFFFFF"}).
			Background(accentColor).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().Foreground(mutedColor)

	statusNoteStyle = lipgloss.NewStyle().Foreground(accentColor)
)

// spinnerFrames defines the braille spinner animation sequence.
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
