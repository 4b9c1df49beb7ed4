package chat

import (
	"context"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/chenadu5299/binder/internal/ai"
)

// checkTabInvariants asserts the per-tab invariants that must hold
// after any operation sequence: at most one loading message, only
// assistant messages carry a loading flag, and message order is the
// order of insertion.
func checkTabInvariants(t *rapid.T, store *Store) {
	for _, tab := range store.Tabs() {
		loading := 0
		for _, m := range tab.Messages {
			if m.Loading() {
				loading++
				if m.Role != RoleAssistant {
					t.Fatalf("tab %s: non-assistant message %s is loading", tab.ID, m.ID)
				}
			}
		}
		if loading > 1 {
			t.Fatalf("tab %s: %d messages loading at once", tab.ID, loading)
		}
	}
}

func TestEngine_PropertyBased_OperationSequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewStore()
		client := newFakeClient()
		engine := NewEngine(EngineOptions{Store: store, Client: client})
		defer engine.Close()
		defer client.events.Close()
		defer client.tools.Close()

		ctx := context.Background()

		// settled holds content of assistant messages after their
		// terminal event; it must never change afterwards.
		settled := make(map[string]string)

		var tabs []string
		pickTab := func() string {
			if len(tabs) == 0 {
				return ""
			}
			return tabs[rapid.IntRange(0, len(tabs)-1).Draw(t, "tabIdx")]
		}
		currentTarget := func(tabID string) string {
			if len(client.requests) == 0 {
				return ""
			}
			for i := len(client.requests) - 1; i >= 0; i-- {
				if client.requests[i].TabID == tabID {
					return client.requests[i].MessageID
				}
			}
			return ""
		}

		numOps := rapid.IntRange(1, 80).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			op := rapid.IntRange(0, 6).Draw(t, "op")

			switch op {
			case 0: // create tab
				tabs = append(tabs, store.CreateTab(""))

			case 1: // send
				tabID := pickTab()
				if tabID == "" {
					tabID = engine.SendMessage(ctx, "", fmt.Sprintf("msg %d", i))
					tabs = append(tabs, tabID)
				} else {
					engine.SendMessage(ctx, tabID, fmt.Sprintf("msg %d", i))
				}

			case 2: // chunk for the current stream target
				tabID := pickTab()
				engine.HandleStreamEvent(ai.StreamEvent{
					TabID:     tabID,
					MessageID: currentTarget(tabID),
					Chunk:     fmt.Sprintf("c%d ", i),
				})

			case 3: // done
				tabID := pickTab()
				target := currentTarget(tabID)
				engine.HandleStreamEvent(ai.StreamEvent{TabID: tabID, MessageID: target, Done: true})
				if target != "" {
					for _, m := range store.Messages(tabID) {
						if m.ID == target {
							settled[target] = m.Content
						}
					}
				}

			case 4: // error
				tabID := pickTab()
				target := currentTarget(tabID)
				engine.HandleStreamEvent(ai.StreamEvent{TabID: tabID, MessageID: target, Err: "boom"})
				if target != "" {
					for _, m := range store.Messages(tabID) {
						if m.ID == target {
							settled[target] = m.Content
						}
					}
				}

			case 5: // regenerate
				engine.Regenerate(ctx, pickTab())

			case 6: // stale event for a random old request
				if len(client.requests) > 0 {
					idx := rapid.IntRange(0, len(client.requests)-1).Draw(t, "reqIdx")
					old := client.requests[idx]
					engine.HandleStreamEvent(ai.StreamEvent{
						TabID:     old.TabID,
						MessageID: old.MessageID,
						Chunk:     "stale",
					})
				}
			}

			checkTabInvariants(t, store)
		}

		// Settled assistant messages never change content afterwards.
		for _, tab := range store.Tabs() {
			for _, m := range tab.Messages {
				if want, ok := settled[m.ID]; ok && !m.Loading() {
					if m.Content != want {
						t.Fatalf("settled message %s changed: %q -> %q", m.ID, want, m.Content)
					}
				}
			}
		}
	})
}

func TestStore_PropertyBased_MessageOrderIsInsertionOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewStore()
		tabID := store.CreateTab("")

		var want []string
		numOps := rapid.IntRange(1, 60).Draw(t, "numOps")
		for i := 0; i < numOps; i++ {
			content := rapid.StringMatching(`[a-z 你好]{1,20}`).Draw(t, "content")
			role := RoleUser
			if rapid.Bool().Draw(t, "assistant") {
				role = RoleAssistant
			}
			if id := store.AddMessage(tabID, role, content, nil); id != "" {
				want = append(want, content)
			}
		}

		messages := store.Messages(tabID)
		if len(messages) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(messages))
		}
		for i, m := range messages {
			if m.Content != want[i] {
				t.Fatalf("position %d: expected %q, got %q", i, want[i], m.Content)
			}
		}
	})
}
