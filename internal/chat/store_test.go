package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStore_CreateTabActivates(t *testing.T) {
	store := NewStore()
	require.Empty(t, store.ActiveTabID())

	first := store.CreateTab("notes")
	require.Equal(t, first, store.ActiveTabID())

	second := store.CreateTab("")
	require.Equal(t, second, store.ActiveTabID())
	require.Equal(t, []string{first, second}, store.TabIDs())

	tab, ok := store.Tab(second)
	require.True(t, ok)
	require.Equal(t, DefaultTabTitle, tab.Title)
}

func TestStore_DeleteTabShiftsActivation(t *testing.T) {
	store := NewStore()
	a := store.CreateTab("a")
	b := store.CreateTab("b")
	c := store.CreateTab("c")

	store.SetActiveTab(b)
	require.True(t, store.DeleteTab(b))
	require.Equal(t, c, store.ActiveTabID(), "activation falls to the next tab")

	store.SetActiveTab(c)
	require.True(t, store.DeleteTab(c))
	require.Equal(t, a, store.ActiveTabID(), "closing the last tab falls back to the previous one")

	require.True(t, store.DeleteTab(a))
	require.Empty(t, store.ActiveTabID())
	require.Zero(t, store.TabCount())

	require.False(t, store.DeleteTab(a), "double delete")
}

func TestStore_SetActiveTabUnknownIsNoOp(t *testing.T) {
	store := NewStore()
	a := store.CreateTab("a")

	require.False(t, store.SetActiveTab("missing"))
	require.Equal(t, a, store.ActiveTabID())
}

func TestStore_MessageOrderMatchesInsertion(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")

	var want []string
	for i := 0; i < 10; i++ {
		content := fmt.Sprintf("message %d", i)
		require.NotEmpty(t, store.AddMessage(tabID, RoleUser, content, nil))
		want = append(want, content)
	}

	messages := store.Messages(tabID)
	require.Len(t, messages, len(want))
	for i, m := range messages {
		require.Equal(t, want[i], m.Content)
	}
}

func TestStore_AppendAndUpdate(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")
	msgID := store.AddMessage(tabID, RoleAssistant, "", boolPtr(true))

	require.True(t, store.AppendToMessage(tabID, msgID, "Hi"))
	require.True(t, store.AppendToMessage(tabID, msgID, " there"))

	last, ok := store.LastMessage(tabID)
	require.True(t, ok)
	require.Equal(t, "Hi there", last.Content)
	require.True(t, last.Loading())

	require.True(t, store.UpdateMessage(tabID, msgID, "replaced"))
	require.True(t, store.SetMessageLoading(tabID, msgID, false))

	last, _ = store.LastMessage(tabID)
	require.Equal(t, "replaced", last.Content)
	require.False(t, last.Loading())
}

func TestStore_OperationsOnUnknownTargetsAreNoOps(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")
	msgID := store.AddMessage(tabID, RoleUser, "hi", nil)

	require.Empty(t, store.AddMessage("missing", RoleUser, "x", nil))
	require.False(t, store.AppendToMessage("missing", msgID, "x"))
	require.False(t, store.AppendToMessage(tabID, "missing", "x"))
	require.False(t, store.UpdateMessage(tabID, "missing", "x"))
	require.False(t, store.SetMessageLoading(tabID, "missing", true))
	require.False(t, store.DeleteMessage(tabID, "missing"))
	require.Nil(t, store.TruncateFrom("missing", msgID))
	require.False(t, store.AddToolCall(tabID, "missing", ToolCall{ID: "c"}))
	require.False(t, store.UpdateToolCall(tabID, msgID, "missing", ToolCallUpdate{Status: ToolFailed}))

	messages := store.Messages(tabID)
	require.Len(t, messages, 1)
	require.Equal(t, "hi", messages[0].Content)
}

func TestStore_TruncateFrom(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")
	store.AddMessage(tabID, RoleUser, "keep", nil)
	cut := store.AddMessage(tabID, RoleUser, "cut", nil)
	store.AddMessage(tabID, RoleAssistant, "also cut", nil)

	removed := store.TruncateFrom(tabID, cut)
	require.Len(t, removed, 2)
	require.Equal(t, "cut", removed[0].Content)
	require.Equal(t, "also cut", removed[1].Content)

	messages := store.Messages(tabID)
	require.Len(t, messages, 1)
	require.Equal(t, "keep", messages[0].Content)
}

func TestStore_ToolCallMerge(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")
	msgID := store.AddMessage(tabID, RoleAssistant, "", boolPtr(true))

	require.True(t, store.AddToolCall(tabID, msgID, ToolCall{ID: "c1", Name: "read_file"}))
	require.True(t, store.AddToolCall(tabID, msgID, ToolCall{ID: "c2", Name: "search"}))

	// Re-adding the same ID merges rather than duplicating.
	require.True(t, store.AddToolCall(tabID, msgID, ToolCall{
		ID: "c1", Name: "read_file", Arguments: `{"path":"a.md"}`, Status: ToolRunning,
	}))
	require.True(t, store.UpdateToolCall(tabID, msgID, "c1", ToolCallUpdate{
		Status: ToolSucceeded, Result: "contents",
	}))

	last, _ := store.LastMessage(tabID)
	require.Len(t, last.ToolCalls, 2)
	require.Equal(t, "c1", last.ToolCalls[0].ID, "invocation order preserved")
	require.Equal(t, ToolSucceeded, last.ToolCalls[0].Status)
	require.Equal(t, `{"path":"a.md"}`, last.ToolCalls[0].Arguments)
	require.Equal(t, "contents", last.ToolCalls[0].Result)
	require.Equal(t, ToolPending, last.ToolCalls[1].Status)
}

func TestStore_RestoreTabClearsStreamingState(t *testing.T) {
	store := NewStore()
	active := store.CreateTab("current")

	store.RestoreTab(Tab{
		ID:    "restored",
		Title: "old conversation",
		Messages: []Message{
			{ID: "m1", Role: RoleUser, Content: "hello"},
			{ID: "m2", Role: RoleAssistant, Content: "partial", IsLoading: boolPtr(true)},
		},
	})

	require.Equal(t, active, store.ActiveTabID(), "restore does not steal focus")
	tab, ok := store.Tab("restored")
	require.True(t, ok)
	require.Len(t, tab.Messages, 2)
	require.False(t, tab.Messages[1].Loading(), "loading never survives a restart")

	// Duplicate restores are ignored.
	store.RestoreTab(Tab{ID: "restored"})
	tab, _ = store.Tab("restored")
	require.Len(t, tab.Messages, 2)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	store := NewStore()
	tabID := store.CreateTab("")
	msgID := store.AddMessage(tabID, RoleAssistant, "original", boolPtr(true))
	store.AddToolCall(tabID, msgID, ToolCall{ID: "c1", Status: ToolPending})

	snap, _ := store.Tab(tabID)
	snap.Messages[0].Content = "mutated"
	*snap.Messages[0].IsLoading = false
	snap.Messages[0].ToolCalls[0].Status = ToolFailed
	snap.Title = "mutated"

	fresh, _ := store.Tab(tabID)
	require.Equal(t, "original", fresh.Messages[0].Content)
	require.True(t, fresh.Messages[0].Loading())
	require.Equal(t, ToolPending, fresh.Messages[0].ToolCalls[0].Status)
	require.NotEqual(t, "mutated", fresh.Title)
}
