// Package chat holds the multi-tab conversation engine: the in-memory
// store of tabs and messages, the request dispatcher, and the stream
// event correlator that folds provider events back into the store.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolStatus tracks a tool call through its lifecycle.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolSucceeded ToolStatus = "succeeded"
	ToolFailed    ToolStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ToolStatus) Terminal() bool {
	return s == ToolSucceeded || s == ToolFailed
}

// ToolCall records one tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Status    ToolStatus
	Result    string
	Error     string
}

// ToolCallUpdate carries a partial update merged into an existing tool
// call. Zero-valued fields are left untouched.
type ToolCallUpdate struct {
	Status ToolStatus
	Result string
	Error  string
}

// Message is an immutable copy of a stored message handed to callers.
type Message struct {
	ID        string
	Role      Role
	Content   string
	IsLoading *bool
	CreatedAt time.Time
	ToolCalls []ToolCall
}

// Loading reports whether the message is still streaming. Messages
// created before streaming metadata existed carry a nil IsLoading and
// count as settled.
func (m Message) Loading() bool {
	return m.IsLoading != nil && *m.IsLoading
}

// Tab is an immutable copy of a stored tab.
type Tab struct {
	ID        string
	Title     string
	Model     string
	Ephemeral bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}

// message is the mutable in-store representation. Content lives in a
// byte buffer so streaming appends stay amortized O(1).
type message struct {
	id        string
	role      Role
	content   []byte
	isLoading *bool
	createdAt time.Time
	toolCalls []ToolCall
}

func (m *message) snapshot() Message {
	out := Message{
		ID:        m.id,
		Role:      m.role,
		Content:   string(m.content),
		CreatedAt: m.createdAt,
	}
	if m.isLoading != nil {
		v := *m.isLoading
		out.IsLoading = &v
	}
	if len(m.toolCalls) > 0 {
		out.ToolCalls = make([]ToolCall, len(m.toolCalls))
		copy(out.ToolCalls, m.toolCalls)
	}
	return out
}

type tab struct {
	id        string
	title     string
	model     string
	ephemeral bool
	createdAt time.Time
	updatedAt time.Time
	messages  []*message
}

func (t *tab) snapshot() Tab {
	out := Tab{
		ID:        t.id,
		Title:     t.title,
		Model:     t.model,
		Ephemeral: t.ephemeral,
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
		Messages:  make([]Message, len(t.messages)),
	}
	for i, m := range t.messages {
		out.Messages[i] = m.snapshot()
	}
	return out
}

func newID() string {
	return uuid.NewString()
}

func boolPtr(v bool) *bool { return &v }
