package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chenadu5299/binder/internal/chat"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db)
}

func boolPtr(v bool) *bool { return &v }

func sampleTab(id string, createdAt time.Time) chat.Tab {
	return chat.Tab{
		ID:        id,
		Title:     "今天天气",
		Model:     "gpt-4o-mini",
		CreatedAt: createdAt,
		UpdatedAt: createdAt.Add(time.Minute),
		Messages: []chat.Message{
			{
				ID:        id + "-m1",
				Role:      chat.RoleUser,
				Content:   "今天天气怎么样",
				CreatedAt: createdAt,
			},
			{
				ID:        id + "-m2",
				Role:      chat.RoleAssistant,
				Content:   "我来查一下",
				IsLoading: boolPtr(false),
				CreatedAt: createdAt.Add(time.Second),
				ToolCalls: []chat.ToolCall{
					{ID: "call-1", Name: "get_weather", Arguments: `{"city":"北京"}`, Status: chat.ToolSucceeded, Result: `{"temp":21}`},
					{ID: "call-2", Name: "get_forecast", Arguments: `{"city":"北京"}`, Status: chat.ToolFailed, Error: "timeout"},
				},
			},
		},
	}
}

func TestRepository_SaveAndLoadRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	created := time.Unix(1_700_000_000, 0)
	want := sampleTab("tab-1", created)

	require.NoError(t, repo.SaveTab(want))

	got, err := repo.LoadTab("tab-1")
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Title, got.Title)
	require.Equal(t, want.Model, got.Model)
	require.True(t, want.CreatedAt.Equal(got.CreatedAt))
	require.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	require.Len(t, got.Messages, 2)
	require.Equal(t, want.Messages[0].ID, got.Messages[0].ID)
	require.Equal(t, chat.RoleUser, got.Messages[0].Role)
	require.Equal(t, "今天天气怎么样", got.Messages[0].Content)
	require.Nil(t, got.Messages[0].IsLoading, "nil loading flag should survive the round trip")

	assistant := got.Messages[1]
	require.Equal(t, chat.RoleAssistant, assistant.Role)
	require.NotNil(t, assistant.IsLoading)
	require.False(t, *assistant.IsLoading)
	require.Len(t, assistant.ToolCalls, 2)
	require.Equal(t, want.Messages[1].ToolCalls, assistant.ToolCalls)
}

func TestRepository_SaveReplacesTranscript(t *testing.T) {
	repo := newTestRepository(t)
	created := time.Unix(1_700_000_000, 0)
	tab := sampleTab("tab-1", created)
	require.NoError(t, repo.SaveTab(tab))

	// Drop the assistant message and save again, the old rows must go.
	tab.Messages = tab.Messages[:1]
	tab.Title = "改标题"
	require.NoError(t, repo.SaveTab(tab))

	got, err := repo.LoadTab("tab-1")
	require.NoError(t, err)
	require.Equal(t, "改标题", got.Title)
	require.Len(t, got.Messages, 1)
	require.Equal(t, chat.RoleUser, got.Messages[0].Role)
}

func TestRepository_LoadUnknownTab(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.LoadTab("missing")
	require.ErrorIs(t, err, ErrTabNotFound)
}

func TestRepository_DeleteTabCascades(t *testing.T) {
	repo := newTestRepository(t)
	tab := sampleTab("tab-1", time.Unix(1_700_000_000, 0))
	require.NoError(t, repo.SaveTab(tab))

	require.NoError(t, repo.DeleteTab("tab-1"))

	_, err := repo.LoadTab("tab-1")
	require.ErrorIs(t, err, ErrTabNotFound)

	var messages, calls int
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messages))
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM tool_calls").Scan(&calls))
	require.Zero(t, messages, "messages should cascade on tab delete")
	require.Zero(t, calls, "tool calls should cascade on message delete")

	// Deleting again is a no-op.
	require.NoError(t, repo.DeleteTab("tab-1"))
}

func TestRepository_ListTabsOrderedByCreation(t *testing.T) {
	repo := newTestRepository(t)
	base := time.Unix(1_700_000_000, 0)
	require.NoError(t, repo.SaveTab(sampleTab("tab-b", base.Add(time.Hour))))
	require.NoError(t, repo.SaveTab(sampleTab("tab-a", base)))

	tabs, err := repo.ListTabs()
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	require.Equal(t, "tab-a", tabs[0].ID)
	require.Equal(t, "tab-b", tabs[1].ID)
	require.Empty(t, tabs[0].Messages, "ListTabs should not load transcripts")

	full, err := repo.LoadTabs()
	require.NoError(t, err)
	require.Len(t, full, 2)
	require.Len(t, full[0].Messages, 2)
}
