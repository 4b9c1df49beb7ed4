// Package ai provides the backend collaborator for the chat engine: wire
// types for the shared event stream, a Client interface, an
// OpenAI-compatible streaming provider, and a priority request queue.
package ai

import (
	"context"
	"time"

	"github.com/chenadu5299/binder/internal/pubsub"
)

// Chat message roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatStreamEvent is the pubsub event type carrying StreamEvent payloads.
const ChatStreamEvent pubsub.EventType = "chat-stream"

// ChatMessage is one turn of conversation history sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelConfig carries pass-through sampling configuration for a request.
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultModelConfig returns the default sampling configuration.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:       "deepseek-chat",
		Temperature: 0.7,
		TopP:        1.0,
		MaxTokens:   2000,
	}
}

// StreamEvent is one inbound event on the shared chat stream.
// For a given TabID the backend emits zero or more events with Done=false and
// empty Err, followed by exactly one terminal event where Done is true or Err
// is set. Err implies terminal regardless of Done.
//
// MessageID names the assistant message the stream targets, copied from the
// dispatching StreamRequest. Consumers use it to discard events from a
// superseded stream instead of guessing by position.
type StreamEvent struct {
	TabID     string `json:"tab_id"`
	MessageID string `json:"message_id,omitempty"`
	Chunk     string `json:"chunk"`
	Done      bool   `json:"done"`
	Err       string `json:"error,omitempty"`
}

// Terminal reports whether the event ends its tab's active stream.
func (e StreamEvent) Terminal() bool {
	return e.Done || e.Err != ""
}

// ToolCallEvent is published when the backend reports a tool invocation
// during a stream. It rides the same broker under its own event type.
type ToolCallEvent struct {
	TabID     string `json:"tab_id"`
	MessageID string `json:"message_id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status"` // pending, running, succeeded, failed
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatToolEvent is the pubsub event type carrying ToolCallEvent payloads.
const ChatToolEvent pubsub.EventType = "chat-tool"

// StreamRequest describes one outbound chat stream dispatch.
type StreamRequest struct {
	TabID         string
	MessageID     string // assistant message receiving the stream; echoed on every event
	Messages      []ChatMessage
	Config        ModelConfig
	WorkspacePath string
}

// Client is the backend collaborator contract. SendChatStream either
// acknowledges the request (the connection is established and streaming has
// begun out-of-band) or returns a synchronous dispatch error. All streamed
// output arrives later as StreamEvents on the Events broker, correlated by
// the tab and message identifiers carried in the request. Tool invocations,
// when the backend reports them, arrive on the separate ToolEvents broker.
type Client interface {
	SendChatStream(ctx context.Context, req StreamRequest) error
	Events() *pubsub.Broker[StreamEvent]
	ToolEvents() *pubsub.Broker[ToolCallEvent]
}

// DefaultRequestTimeout bounds a single streaming request end to end.
// Configurable between 10s and 300s; see config.Validate.
const DefaultRequestTimeout = 60 * time.Second
