package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/chenadu5299/binder/internal/ai"
	"github.com/chenadu5299/binder/internal/log"
	"github.com/chenadu5299/binder/internal/pubsub"
)

// TabUpdatedEvent is published on the engine's update broker whenever a
// tab's visible state changes. Subscribers (UI, history persistence)
// re-read the store on receipt.
const TabUpdatedEvent pubsub.EventType = "tab-updated"

// Update identifies the tab whose state changed.
type Update struct {
	TabID string
}

// maxTitleRunes bounds titles derived from the first user message.
const maxTitleRunes = 30

// WorkspaceResolver supplies the workspace path attached to outbound
// requests. Resolution failure is surfaced into the assistant
// placeholder rather than returned to the caller.
type WorkspaceResolver interface {
	Root() (string, error)
}

// EngineOptions configures an Engine. Store and Client are required;
// Workspace may be nil when requests need no workspace context, and a
// nil Model falls back to ai.DefaultModelConfig.
type EngineOptions struct {
	Store     *Store
	Client    ai.Client
	Workspace WorkspaceResolver
	Model     func() ai.ModelConfig
}

// Engine is the request dispatcher and stream event correlator. It
// owns exactly one subscription to the client's event brokers for its
// whole lifetime; events are folded into the store sequentially, so
// every mutation the correlator makes is atomic with respect to the
// others.
type Engine struct {
	store     *Store
	client    ai.Client
	workspace WorkspaceResolver
	model     func() ai.ModelConfig

	filter  *chunkFilter
	updates *pubsub.Broker[Update]

	loopMu sync.Mutex
	loops  map[string]*loopDetector

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewEngine wires an engine over a store and a backend client.
func NewEngine(opts EngineOptions) *Engine {
	model := opts.Model
	if model == nil {
		model = ai.DefaultModelConfig
	}
	return &Engine{
		store:     opts.Store,
		client:    opts.Client,
		workspace: opts.Workspace,
		model:     model,
		filter:    newChunkFilter(),
		updates:   pubsub.NewBroker[Update](),
		loops:     make(map[string]*loopDetector),
		done:      make(chan struct{}),
	}
}

// Store exposes the underlying conversation store.
func (e *Engine) Store() *Store {
	return e.store
}

// Updates returns the broker announcing tab state changes.
func (e *Engine) Updates() *pubsub.Broker[Update] {
	return e.updates
}

// Start establishes the event subscriptions and begins correlating.
// Calling Start more than once is a no-op; the subscription is
// process-wide and must never be doubled or chunks would be applied
// twice.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		events := e.client.Events().Subscribe(ctx)
		tools := e.client.ToolEvents().Subscribe(ctx)
		go e.run(ctx, events, tools)
	})
}

// Close tears down the engine's update broker. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.updates.Close()
	})
}

func (e *Engine) run(ctx context.Context, events <-chan pubsub.Event[ai.StreamEvent], tools <-chan pubsub.Event[ai.ToolCallEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != ai.ChatStreamEvent {
				continue
			}
			e.HandleStreamEvent(ev.Payload)
		case ev, ok := <-tools:
			if !ok {
				return
			}
			if ev.Type != ai.ChatToolEvent {
				continue
			}
			e.HandleToolEvent(ev.Payload)
		}
	}
}

// SendMessage appends a user turn, creates a loading assistant
// placeholder, and dispatches the request. It returns the ID of the
// tab used, which may be a freshly created one when tabID is empty and
// nothing is active. Dispatch failures are written into the
// placeholder, never returned.
func (e *Engine) SendMessage(ctx context.Context, tabID, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return tabID
	}

	if tabID == "" {
		tabID = e.store.ActiveTabID()
	}
	if tabID == "" {
		tabID = e.store.CreateTab("")
	}
	if _, ok := e.store.Tab(tabID); !ok {
		log.Warn(log.CatChat, "send to unknown tab", "tab", tabID)
		return tabID
	}

	// A still-streaming response for this tab is superseded: settle it
	// so the tab never holds two loading messages. Its backend stream
	// keeps running but the correlator will drop its events.
	e.settleLoading(tabID)

	e.store.AddMessage(tabID, RoleUser, content, nil)
	e.maybeTitleTab(tabID, content)

	placeholderID := e.store.AddMessage(tabID, RoleAssistant, "", boolPtr(true))
	// The chunk filter starts each response fresh. The loop detector
	// does not: its window spans the tab's exchanges and is cleared
	// only by CloseTab.
	e.filter.Reset(tabID)
	e.publish(tabID)

	e.dispatch(ctx, tabID, placeholderID)
	return tabID
}

// CloseTab removes a tab together with the per-tab streaming state
// the engine keeps for it. Unknown tabs report false.
func (e *Engine) CloseTab(tabID string) bool {
	if !e.store.DeleteTab(tabID) {
		return false
	}
	e.filter.Reset(tabID)
	e.loopMu.Lock()
	delete(e.loops, tabID)
	e.loopMu.Unlock()
	e.publish(tabID)
	return true
}

// Regenerate discards the last exchange's assistant response and
// resends the last user message. Tabs with no user message are left
// untouched.
func (e *Engine) Regenerate(ctx context.Context, tabID string) {
	if tabID == "" {
		tabID = e.store.ActiveTabID()
	}
	messages := e.store.Messages(tabID)
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		log.Warn(log.CatChat, "regenerate without a user message", "tab", tabID)
		return
	}

	// Drop the last user turn and everything after it, then resend the
	// same content. The discarded placeholder's stream, if still
	// running, is orphaned: its message ID no longer resolves.
	resend := messages[lastUser].Content
	removed := e.store.TruncateFrom(tabID, messages[lastUser].ID)
	log.Info(log.CatChat, "regenerating response", "tab", tabID, "discarded", len(removed))
	e.SendMessage(ctx, tabID, resend)
}

// dispatch builds the outbound history and issues the backend call.
func (e *Engine) dispatch(ctx context.Context, tabID, placeholderID string) {
	workspacePath := ""
	if e.workspace != nil {
		root, err := e.workspace.Root()
		if err != nil {
			e.failDispatch(tabID, placeholderID, err)
			return
		}
		workspacePath = root
	}

	history := e.buildHistory(tabID, placeholderID)
	cfg := e.model()
	if tab, ok := e.store.Tab(tabID); ok && tab.Model != "" {
		cfg.Model = tab.Model
	}

	err := e.client.SendChatStream(ctx, ai.StreamRequest{
		TabID:         tabID,
		MessageID:     placeholderID,
		Messages:      history,
		Config:        cfg,
		WorkspacePath: workspacePath,
	})
	if err != nil {
		e.failDispatch(tabID, placeholderID, err)
		return
	}
	log.Debug(log.CatChat, "request dispatched", "tab", tabID, "message", placeholderID, "history", len(history))
}

// buildHistory maps the tab's settled transcript into outbound turns,
// excluding the placeholder and anything still streaming.
func (e *Engine) buildHistory(tabID, placeholderID string) []ai.ChatMessage {
	messages := e.store.Messages(tabID)
	history := make([]ai.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.ID == placeholderID || m.Loading() {
			continue
		}
		if m.Content == "" {
			continue
		}
		history = append(history, ai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return history
}

// failDispatch recovers a synchronous dispatch failure into the
// placeholder as a categorized, user-readable message.
func (e *Engine) failDispatch(tabID, msgID string, err error) {
	log.ErrorErr(log.CatChat, "dispatch failed", err, "tab", tabID, "message", msgID)
	e.store.UpdateMessage(tabID, msgID, ai.DisplayError(err))
	e.store.SetMessageLoading(tabID, msgID, false)
	e.publish(tabID)
}

// HandleStreamEvent applies one inbound stream event to the store. It
// is total: malformed, stale, and unroutable events are logged and
// dropped, never propagated.
func (e *Engine) HandleStreamEvent(ev ai.StreamEvent) {
	defer e.recoverHandler("stream", ev.TabID)

	target, ok := e.resolveTarget(ev.TabID, ev.MessageID)
	if !ok {
		return
	}

	switch {
	case ev.Err != "":
		if target.IsLoading != nil && !*target.IsLoading {
			log.Debug(log.CatStream, "error event after terminal, dropped", "tab", ev.TabID, "message", target.ID)
			return
		}
		e.store.AppendToMessage(ev.TabID, target.ID, annotateError(ev.Err))
		e.store.SetMessageLoading(ev.TabID, target.ID, false)
		log.Warn(log.CatStream, "stream errored", "tab", ev.TabID, "message", target.ID, "error", ev.Err)
		e.publish(ev.TabID)

	case ev.Done:
		if target.IsLoading != nil && !*target.IsLoading {
			return
		}
		e.store.SetMessageLoading(ev.TabID, target.ID, false)
		if e.detector(ev.TabID).RecordReply(target.Content) {
			log.Warn(log.CatStream, "repeated reply detected", "tab", ev.TabID, "message", target.ID)
		}
		log.Debug(log.CatStream, "stream completed", "tab", ev.TabID, "message", target.ID)
		e.publish(ev.TabID)

	default:
		// Loading must not be explicitly false; a nil flag still accepts
		// content.
		if target.IsLoading != nil && !*target.IsLoading {
			log.Debug(log.CatStream, "chunk after terminal, dropped", "tab", ev.TabID, "message", target.ID)
			return
		}
		if !e.filter.Admit(ev.TabID, ev.Chunk) {
			return
		}
		e.store.AppendToMessage(ev.TabID, target.ID, ev.Chunk)
		e.publish(ev.TabID)
	}
}

// HandleToolEvent records or advances a tool invocation on the
// assistant message its stream targets.
func (e *Engine) HandleToolEvent(ev ai.ToolCallEvent) {
	defer e.recoverHandler("tool", ev.TabID)

	target, ok := e.resolveTarget(ev.TabID, ev.MessageID)
	if !ok {
		return
	}

	switch ToolStatus(ev.Status) {
	case ToolPending, ToolRunning:
		e.store.AddToolCall(ev.TabID, target.ID, ToolCall{
			ID:        ev.CallID,
			Name:      ev.Name,
			Arguments: ev.Arguments,
			Status:    ToolStatus(ev.Status),
		})
		if ToolStatus(ev.Status) == ToolRunning && e.detector(ev.TabID).RecordToolCall(ev.Name, ev.Arguments) {
			log.Warn(log.CatStream, "tool call loop detected", "tab", ev.TabID, "tool", ev.Name)
		}
	case ToolSucceeded, ToolFailed:
		e.store.UpdateToolCall(ev.TabID, target.ID, ev.CallID, ToolCallUpdate{
			Status: ToolStatus(ev.Status),
			Result: ev.Result,
			Error:  ev.Error,
		})
	default:
		log.Warn(log.CatStream, "tool event with unknown status", "tab", ev.TabID, "status", ev.Status)
		return
	}
	e.publish(ev.TabID)
}

// resolveTarget finds the message an event addresses. Events carrying
// a message ID resolve strictly against it; events without one fall
// back to the tab's last message, which must be an assistant message.
func (e *Engine) resolveTarget(tabID, messageID string) (Message, bool) {
	if _, ok := e.store.Tab(tabID); !ok {
		log.Debug(log.CatStream, "event for unknown tab, dropped", "tab", tabID)
		return Message{}, false
	}

	if messageID != "" {
		for _, m := range e.store.Messages(tabID) {
			if m.ID == messageID {
				if m.Role != RoleAssistant {
					log.Warn(log.CatStream, "event target is not an assistant message, dropped", "tab", tabID, "message", messageID)
					return Message{}, false
				}
				return m, true
			}
		}
		log.Debug(log.CatStream, "event for discarded message, dropped", "tab", tabID, "message", messageID)
		return Message{}, false
	}

	last, ok := e.store.LastMessage(tabID)
	if !ok {
		log.Warn(log.CatStream, "event for tab with no messages, dropped", "tab", tabID)
		return Message{}, false
	}
	if last.Role != RoleAssistant {
		log.Warn(log.CatStream, "last message is not an assistant message, dropped", "tab", tabID)
		return Message{}, false
	}
	return last, true
}

// settleLoading clears any loading flag left in the tab so a new
// placeholder can become the only streaming message.
func (e *Engine) settleLoading(tabID string) {
	for _, m := range e.store.Messages(tabID) {
		if m.Loading() {
			e.store.SetMessageLoading(tabID, m.ID, false)
			log.Info(log.CatChat, "superseding in-flight stream", "tab", tabID, "message", m.ID)
		}
	}
}

// maybeTitleTab derives the tab title from its first user message.
func (e *Engine) maybeTitleTab(tabID, content string) {
	tab, ok := e.store.Tab(tabID)
	if !ok || tab.Title != DefaultTabTitle {
		return
	}
	users := 0
	for _, m := range tab.Messages {
		if m.Role == RoleUser {
			users++
		}
	}
	if users != 1 {
		return
	}
	e.store.SetTabTitle(tabID, deriveTitle(content))
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if line, _, found := strings.Cut(title, "\n"); found {
		title = line
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes]) + "…"
	}
	if title == "" {
		return DefaultTabTitle
	}
	return title
}

func annotateError(errText string) string {
	return "\n\n[错误: " + errText + "]"
}

func (e *Engine) detector(tabID string) *loopDetector {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	d, ok := e.loops[tabID]
	if !ok {
		d = newLoopDetector()
		e.loops[tabID] = d
	}
	return d
}

func (e *Engine) publish(tabID string) {
	e.updates.Publish(TabUpdatedEvent, Update{TabID: tabID})
}

// recoverHandler keeps event handling total. A panic in a handler
// would kill the shared subscription and silently break every tab.
func (e *Engine) recoverHandler(kind, tabID string) {
	if r := recover(); r != nil {
		log.Error(log.CatStream, "recovered panic in event handler", "kind", kind, "tab", tabID, "panic", r)
	}
}
