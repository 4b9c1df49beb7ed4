package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	ansitruncate "github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/chenadu5299/binder/internal/chat"
)

// Role labels shown in the transcript.
const (
	userLabel      = "你"
	assistantLabel = "助手"
	systemLabel    = "系统"
)

// renderTranscript renders a tab's messages for the viewport. Tool
// calls attached to an assistant message render as a grouped block
// above its text, the last entry closed with ╰╴.
func renderTranscript(tab chat.Tab, width int, showToolCalls bool, spinnerFrame string) string {
	var content strings.Builder
	wrapWidth := max(width-2, 10)

	for _, msg := range tab.Messages {
		switch msg.Role {
		case chat.RoleUser:
			content.WriteString(roleStyle.Foreground(userColor).Render(userLabel) + "\n")
			content.WriteString(userMessageStyle.Render(wordwrap.String(msg.Content, wrapWidth)) + "\n\n")

		case chat.RoleSystem:
			content.WriteString(roleStyle.Foreground(systemColor).Render(systemLabel) + "\n")
			content.WriteString(wordwrap.String(msg.Content, wrapWidth) + "\n\n")

		default:
			content.WriteString(roleStyle.Foreground(assistantColor).Render(assistantLabel) + "\n")
			if showToolCalls && len(msg.ToolCalls) > 0 {
				content.WriteString(renderToolCalls(msg.ToolCalls))
			}
			content.WriteString(renderAssistantBody(msg, wrapWidth, spinnerFrame))
		}
	}

	return strings.TrimRight(content.String(), "\n")
}

// renderAssistantBody renders the text of an assistant message. An
// empty streaming message shows the spinner; a partially streamed one
// carries a trailing cursor.
func renderAssistantBody(msg chat.Message, wrapWidth int, spinnerFrame string) string {
	if msg.Loading() && msg.Content == "" {
		return spinnerStyle.Render(spinnerFrame+" 思考中…") + "\n\n"
	}
	body := wordwrap.String(msg.Content, wrapWidth)
	if msg.Loading() {
		body += spinnerStyle.Render("▌")
	}
	return body + "\n\n"
}

// renderToolCalls renders the tool invocation block of a message.
func renderToolCalls(calls []chat.ToolCall) string {
	var b strings.Builder
	for i, tc := range calls {
		prefix := "├╴ "
		if i == len(calls)-1 {
			prefix = "╰╴ "
		}
		b.WriteString(toolCallStyle.Render(prefix+toolCallLine(tc)) + "\n")
	}
	return b.String()
}

func toolCallLine(tc chat.ToolCall) string {
	switch tc.Status {
	case chat.ToolSucceeded:
		return "✓ " + tc.Name
	case chat.ToolFailed:
		if tc.Error != "" {
			return "✗ " + tc.Name + " (" + tc.Error + ")"
		}
		return "✗ " + tc.Name
	default:
		return "→ " + tc.Name
	}
}

// renderTabBar renders the numbered tab strip. The active tab is
// highlighted; titles are truncated to keep the bar on one line.
func renderTabBar(tabs []chat.Tab, activeID string, width int) string {
	if len(tabs) == 0 {
		return ""
	}

	items := make([]string, 0, len(tabs))
	for i, t := range tabs {
		label := truncate(t.Title, 16)
		if label == "" {
			label = chat.DefaultTabTitle
		}
		numbered := ""
		if i < 9 {
			numbered = string(rune('1'+i)) + " "
		}
		if t.ID == activeID {
			items = append(items, tabActiveStyle.Render(numbered+label))
		} else {
			items = append(items, tabInactiveStyle.Render(numbered+label))
		}
	}

	bar := lipgloss.JoinHorizontal(lipgloss.Top, items...)
	if width > 0 && lipgloss.Width(bar) > width {
		bar = ansitruncate.String(bar, uint(width))
	}
	return bar
}

// truncate cuts s to at most n runes, appending … when shortened.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return string(runes[:n-1]) + "…"
}
