package tui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/muesli/termenv"

	"github.com/chenadu5299/binder/internal/chat"
)

func init() {
	// Goldens are recorded without color so they compare the same on
	// every terminal.
	lipgloss.SetColorProfile(termenv.Ascii)
}

func TestTranscriptGolden(t *testing.T) {
	tab := chat.Tab{
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "北京今天天气怎么样"},
			{
				Role:      chat.RoleAssistant,
				Content:   "北京今天晴，最高 28 度。",
				IsLoading: loadingPtr(false),
				ToolCalls: []chat.ToolCall{
					{ID: "c1", Name: "get_weather", Status: chat.ToolSucceeded},
					{ID: "c2", Name: "get_forecast", Status: chat.ToolRunning},
				},
			},
		},
	}

	view := renderTranscript(tab, 60, true, "⠋")
	teatest.RequireEqualOutput(t, []byte(view))
}

func TestStreamingTranscriptGolden(t *testing.T) {
	tab := chat.Tab{
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "讲个笑话"},
			{Role: chat.RoleAssistant, Content: "", IsLoading: loadingPtr(true)},
		},
	}

	view := renderTranscript(tab, 60, true, "⠋")
	teatest.RequireEqualOutput(t, []byte(view))
}

func TestTabBarGolden(t *testing.T) {
	tabs := []chat.Tab{
		{ID: "a", Title: "新对话"},
		{ID: "b", Title: "翻译"},
	}

	teatest.RequireEqualOutput(t, []byte(renderTabBar(tabs, "a", 60)))
}
