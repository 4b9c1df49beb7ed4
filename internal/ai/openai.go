package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chenadu5299/binder/internal/log"
	"github.com/chenadu5299/binder/internal/pubsub"
)

// Default base URLs for the two supported OpenAI-compatible backends.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// maxSSELineSize bounds a single SSE line. Chunks are small; 1MB leaves
// headroom for large tool-call argument payloads.
const maxSSELineSize = 1 << 20

// Options configures an HTTPClient.
type Options struct {
	Name    string // provider name, for logging ("openai", "deepseek")
	BaseURL string
	APIKey  string
	Timeout time.Duration // end-to-end bound per streaming request
	Queue   *RequestQueue // nil means unbounded
}

// HTTPClient streams chat completions from an OpenAI-compatible endpoint
// and publishes the resulting events on its brokers. It implements Client.
type HTTPClient struct {
	opts       Options
	httpc      *http.Client
	events     *pubsub.Broker[StreamEvent]
	toolEvents *pubsub.Broker[ToolCallEvent]
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a streaming client for an OpenAI-compatible backend.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.BaseURL == "" {
		opts.BaseURL = OpenAIBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	return &HTTPClient{
		opts: opts,
		// No client-level timeout: the per-request context bounds the
		// whole stream instead.
		httpc:      &http.Client{},
		events:     pubsub.NewBroker[StreamEvent](),
		toolEvents: pubsub.NewBroker[ToolCallEvent](),
	}
}

// Events returns the broker carrying chat stream events.
func (c *HTTPClient) Events() *pubsub.Broker[StreamEvent] {
	return c.events
}

// ToolEvents returns the broker carrying tool invocation events.
func (c *HTTPClient) ToolEvents() *pubsub.Broker[ToolCallEvent] {
	return c.toolEvents
}

// Close shuts down both brokers.
func (c *HTTPClient) Close() {
	c.events.Close()
	c.toolEvents.Close()
}

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

// sseChunk is one decoded "data:" payload from the stream.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// SendChatStream opens the streaming request. A nil return means the
// connection is established and events for the request's tab will arrive on
// the Events broker; a non-nil return is a synchronous dispatch failure and
// no events will be published.
func (c *HTTPClient) SendChatStream(ctx context.Context, sr StreamRequest) error {
	if c.opts.APIKey == "" {
		return fmt.Errorf("%w: provider %s", ErrMissingAPIKey, c.opts.Name)
	}
	if len(sr.Messages) == 0 {
		return fmt.Errorf("empty message history for tab %s", sr.TabID)
	}

	requestID := "chat-" + uuid.NewString()
	if c.opts.Queue != nil {
		if err := c.opts.Queue.Admit(ctx, requestID, PriorityNormal); err != nil {
			return fmt.Errorf("admitting chat request: %w", err)
		}
	}
	release := func() {
		if c.opts.Queue != nil {
			c.opts.Queue.Release()
		}
	}

	body, err := json.Marshal(chatRequest{
		Model:       sr.Config.Model,
		Messages:    sr.Messages,
		Temperature: sr.Config.Temperature,
		TopP:        sr.Config.TopP,
		MaxTokens:   sr.Config.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		release()
		return fmt.Errorf("encoding chat request: %w", err)
	}

	// The stream outlives this call; detach from the caller's context but
	// keep its values out of play entirely. Timeout covers the full stream.
	streamCtx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		release()
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	log.Debug(log.CatAI, "dispatching chat stream",
		"provider", c.opts.Name, "tab", sr.TabID, "model", sr.Config.Model,
		"history", len(sr.Messages), "request", requestID, "workspace", sr.WorkspacePath)

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		release()
		return fmt.Errorf("sending chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		release()
		return fmt.Errorf("chat request rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	go func() {
		defer cancel()
		defer release()
		defer func() { _ = resp.Body.Close() }()
		c.readStream(streamCtx, sr, resp.Body)
	}()

	return nil
}

// readStream decodes the SSE body and publishes events for the request's tab
// until the stream ends. Exactly one terminal event is published.
func (c *HTTPClient) readStream(ctx context.Context, sr StreamRequest, body io.Reader) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)

	tools := newToolCallAccumulator()
	sawDone := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			sawDone = true
			break
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Warn(log.CatAI, "skipping undecodable stream payload",
				"provider", c.opts.Name, "tab", sr.TabID, "error", err.Error())
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			c.events.Publish(ChatStreamEvent, StreamEvent{TabID: sr.TabID, MessageID: sr.MessageID, Chunk: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			if started := tools.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments); started {
				c.toolEvents.Publish(ChatToolEvent, ToolCallEvent{
					TabID:     sr.TabID,
					MessageID: sr.MessageID,
					CallID:    tools.id(tc.Index),
					Name:      tools.name(tc.Index),
					Status:    "pending",
				})
			}
		}

		if choice.FinishReason != nil && *choice.FinishReason == "tool_calls" {
			for _, call := range tools.complete() {
				c.toolEvents.Publish(ChatToolEvent, ToolCallEvent{
					TabID:     sr.TabID,
					MessageID: sr.MessageID,
					CallID:    call.id,
					Name:      call.name,
					Arguments: call.arguments,
					Status:    "running",
				})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		// Timeout or transport failure mid-stream. Context errors take
		// precedence for a cleaner message.
		msg := err.Error()
		if ctxErr := ctx.Err(); ctxErr != nil {
			msg = ctxErr.Error()
		}
		log.ErrorErr(log.CatAI, "chat stream failed", err, "provider", c.opts.Name, "tab", sr.TabID)
		c.events.Publish(ChatStreamEvent, StreamEvent{TabID: sr.TabID, MessageID: sr.MessageID, Err: msg})
		return
	}

	if !sawDone {
		log.Warn(log.CatAI, "chat stream ended without [DONE]", "provider", c.opts.Name, "tab", sr.TabID)
	}
	c.events.Publish(ChatStreamEvent, StreamEvent{TabID: sr.TabID, MessageID: sr.MessageID, Done: true})
}

// toolCallAccumulator reassembles tool calls whose arguments stream in
// fragments across deltas, keyed by the delta index.
type toolCallAccumulator struct {
	calls map[int]*accumulatedCall
}

type accumulatedCall struct {
	index     int
	id        string
	name      string
	arguments string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*accumulatedCall)}
}

// add folds one delta fragment in. Returns true when the fragment starts a
// new call (first time this index is seen with an ID).
func (a *toolCallAccumulator) add(index int, id, name, arguments string) bool {
	call, ok := a.calls[index]
	if !ok {
		call = &accumulatedCall{index: index}
		a.calls[index] = call
	}
	started := call.id == "" && id != ""
	if id != "" {
		call.id = id
	}
	if name != "" {
		call.name = name
	}
	call.arguments += arguments
	return started
}

func (a *toolCallAccumulator) id(index int) string {
	if call, ok := a.calls[index]; ok {
		return call.id
	}
	return ""
}

func (a *toolCallAccumulator) name(index int) string {
	if call, ok := a.calls[index]; ok {
		return call.name
	}
	return ""
}

// complete returns all accumulated calls in index order and resets the
// accumulator for a possible next round.
func (a *toolCallAccumulator) complete() []accumulatedCall {
	result := make([]accumulatedCall, 0, len(a.calls))
	for _, call := range a.calls {
		result = append(result, *call)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].index < result[j].index })
	a.calls = make(map[int]*accumulatedCall)
	return result
}
