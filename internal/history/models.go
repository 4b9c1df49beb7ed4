package history

import (
	"time"

	"github.com/chenadu5299/binder/internal/chat"
)

// tabModel represents the database row for the tabs table.
// Time values are stored as Unix timestamps.
type tabModel struct {
	ID        string
	Title     string
	Model     string
	CreatedAt int64
	UpdatedAt int64
}

// messageModel represents the database row for the messages table.
type messageModel struct {
	ID        string
	TabID     string
	Position  int
	Role      string
	Content   string
	IsLoading *int64 // nullable, 0 or 1
	CreatedAt int64
}

// toolCallModel represents the database row for the tool_calls table.
type toolCallModel struct {
	ID        string
	MessageID string
	Position  int
	Name      string
	Arguments string
	Status    string
	Result    string
	Error     string
}

func toTabModel(t chat.Tab) tabModel {
	return tabModel{
		ID:        t.ID,
		Title:     t.Title,
		Model:     t.Model,
		CreatedAt: t.CreatedAt.Unix(),
		UpdatedAt: t.UpdatedAt.Unix(),
	}
}

func (m tabModel) toTab() chat.Tab {
	return chat.Tab{
		ID:        m.ID,
		Title:     m.Title,
		Model:     m.Model,
		CreatedAt: time.Unix(m.CreatedAt, 0),
		UpdatedAt: time.Unix(m.UpdatedAt, 0),
	}
}

func toMessageModel(tabID string, position int, msg chat.Message) messageModel {
	m := messageModel{
		ID:        msg.ID,
		TabID:     tabID,
		Position:  position,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Unix(),
	}
	if msg.IsLoading != nil {
		v := int64(0)
		if *msg.IsLoading {
			v = 1
		}
		m.IsLoading = &v
	}
	return m
}

func (m messageModel) toMessage() chat.Message {
	out := chat.Message{
		ID:        m.ID,
		Role:      chat.Role(m.Role),
		Content:   m.Content,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
	if m.IsLoading != nil {
		v := *m.IsLoading != 0
		out.IsLoading = &v
	}
	return out
}

func toToolCallModel(messageID string, position int, tc chat.ToolCall) toolCallModel {
	return toolCallModel{
		ID:        tc.ID,
		MessageID: messageID,
		Position:  position,
		Name:      tc.Name,
		Arguments: tc.Arguments,
		Status:    string(tc.Status),
		Result:    tc.Result,
		Error:     tc.Error,
	}
}

func (m toolCallModel) toToolCall() chat.ToolCall {
	return chat.ToolCall{
		ID:        m.ID,
		Name:      m.Name,
		Arguments: m.Arguments,
		Status:    chat.ToolStatus(m.Status),
		Result:    m.Result,
		Error:     m.Error,
	}
}
