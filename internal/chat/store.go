package chat

import (
	"sync"
	"time"

	"github.com/chenadu5299/binder/internal/log"
)

// DefaultTabTitle names a tab until its first user message arrives.
const DefaultTabTitle = "新对话"

// Store is the in-memory registry of tabs and their transcripts. A
// single mutex guards all state; every mutation runs under it, so
// callers on any goroutine observe a consistent ordering. Reads hand
// out deep copies, never internal pointers.
type Store struct {
	mu       sync.Mutex
	tabs     map[string]*tab
	order    []string
	activeID string
}

// NewStore returns an empty store with no tabs and no active tab.
func NewStore() *Store {
	return &Store{tabs: make(map[string]*tab)}
}

// ----------------------------------------------------------------------------
// Tab registry
// ----------------------------------------------------------------------------

// CreateTab appends a new tab, makes it active, and returns its ID.
// An empty title falls back to DefaultTabTitle.
func (s *Store) CreateTab(title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		title = DefaultTabTitle
	}
	now := time.Now()
	t := &tab{
		id:        newID(),
		title:     title,
		createdAt: now,
		updatedAt: now,
	}
	s.tabs[t.id] = t
	s.order = append(s.order, t.id)
	s.activeID = t.id
	return t.id
}

// RestoreTab reinserts a tab from persisted history, preserving its
// IDs and timestamps. The restored tab is appended without stealing
// focus from the active tab.
func (s *Store) RestoreTab(snap Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tabs[snap.ID]; ok {
		log.Warn(log.CatStore, "restore skipped, tab already present", "tab", snap.ID)
		return
	}
	t := &tab{
		id:        snap.ID,
		title:     snap.Title,
		model:     snap.Model,
		ephemeral: snap.Ephemeral,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
		messages:  make([]*message, 0, len(snap.Messages)),
	}
	for _, m := range snap.Messages {
		// Streaming state never survives a restart.
		restored := &message{
			id:        m.ID,
			role:      m.Role,
			content:   []byte(m.Content),
			createdAt: m.CreatedAt,
		}
		if m.IsLoading != nil {
			restored.isLoading = boolPtr(false)
		}
		if len(m.ToolCalls) > 0 {
			restored.toolCalls = make([]ToolCall, len(m.ToolCalls))
			copy(restored.toolCalls, m.ToolCalls)
		}
		t.messages = append(t.messages, restored)
	}
	s.tabs[t.id] = t
	s.order = append(s.order, t.id)
	if s.activeID == "" {
		s.activeID = t.id
	}
}

// DeleteTab removes a tab and its transcript. Deleting the active tab
// shifts focus to the next tab in order, or the previous one when the
// last tab was closed.
func (s *Store) DeleteTab(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tabs[id]; !ok {
		return false
	}
	delete(s.tabs, id)
	idx := s.indexOf(id)
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	if s.activeID == id {
		switch {
		case len(s.order) == 0:
			s.activeID = ""
		case idx < len(s.order):
			s.activeID = s.order[idx]
		default:
			s.activeID = s.order[len(s.order)-1]
		}
	}
	return true
}

// SetActiveTab switches focus. Unknown IDs leave focus unchanged.
func (s *Store) SetActiveTab(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tabs[id]; !ok {
		return false
	}
	s.activeID = id
	return true
}

// ActiveTabID returns the focused tab, or "" when no tabs exist.
func (s *Store) ActiveTabID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// TabIDs returns tab IDs in creation order.
func (s *Store) TabIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// TabCount returns the number of open tabs.
func (s *Store) TabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Tab returns a deep copy of one tab.
func (s *Store) Tab(id string) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return Tab{}, false
	}
	return t.snapshot(), true
}

// Tabs returns deep copies of every tab in creation order.
func (s *Store) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tabs[id].snapshot())
	}
	return out
}

// SetTabTitle renames a tab.
func (s *Store) SetTabTitle(id, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return false
	}
	t.title = title
	t.updatedAt = time.Now()
	return true
}

// SetTabModel records the model a tab's requests should use.
func (s *Store) SetTabModel(id, model string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return false
	}
	t.model = model
	t.updatedAt = time.Now()
	return true
}

// SetTabEphemeral marks a tab as excluded from persistence.
func (s *Store) SetTabEphemeral(id string, ephemeral bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return false
	}
	t.ephemeral = ephemeral
	t.updatedAt = time.Now()
	return true
}

// ----------------------------------------------------------------------------
// Message store
// ----------------------------------------------------------------------------

// AddMessage appends a message to a tab's transcript and returns the
// generated message ID. Targeting an unknown tab logs a warning and
// returns "".
func (s *Store) AddMessage(tabID string, role Role, content string, loading *bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		log.Warn(log.CatStore, "add message to unknown tab", "tab", tabID)
		return ""
	}
	m := &message{
		id:        newID(),
		role:      role,
		content:   []byte(content),
		createdAt: time.Now(),
	}
	if loading != nil {
		m.isLoading = boolPtr(*loading)
	}
	t.messages = append(t.messages, m)
	t.updatedAt = m.createdAt
	return m.id
}

// UpdateMessage replaces a message's content wholesale.
func (s *Store) UpdateMessage(tabID, msgID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(tabID, msgID, "update message")
	if m == nil {
		return false
	}
	m.content = append(m.content[:0], content...)
	s.tabs[tabID].updatedAt = time.Now()
	return true
}

// AppendToMessage appends a streamed chunk to a message's content.
func (s *Store) AppendToMessage(tabID, msgID, chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(tabID, msgID, "append to message")
	if m == nil {
		return false
	}
	m.content = append(m.content, chunk...)
	s.tabs[tabID].updatedAt = time.Now()
	return true
}

// SetMessageLoading flips a message's streaming flag.
func (s *Store) SetMessageLoading(tabID, msgID string, loading bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(tabID, msgID, "set loading")
	if m == nil {
		return false
	}
	m.isLoading = boolPtr(loading)
	s.tabs[tabID].updatedAt = time.Now()
	return true
}

// DeleteMessage removes a single message from a tab's transcript.
func (s *Store) DeleteMessage(tabID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		log.Warn(log.CatStore, "delete message on unknown tab", "tab", tabID)
		return false
	}
	for i, m := range t.messages {
		if m.id == msgID {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			t.updatedAt = time.Now()
			return true
		}
	}
	log.Warn(log.CatStore, "delete unknown message", "tab", tabID, "message", msgID)
	return false
}

// Messages returns deep copies of a tab's transcript in append order.
func (s *Store) Messages(tabID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.snapshot()
	}
	return out
}

// LastMessage returns the newest message in a tab.
func (s *Store) LastMessage(tabID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok || len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1].snapshot(), true
}

// LastAssistantMessage returns the newest assistant message in a tab.
// Streamed events for a tab are folded into this message while its
// loading flag is set.
func (s *Store) LastAssistantMessage(tabID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		return Message{}, false
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].role == RoleAssistant {
			return t.messages[i].snapshot(), true
		}
	}
	return Message{}, false
}

// TruncateFrom drops the named message and everything after it,
// returning the removed suffix. Used when an exchange is regenerated.
func (s *Store) TruncateFrom(tabID, msgID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[tabID]
	if !ok {
		log.Warn(log.CatStore, "truncate on unknown tab", "tab", tabID)
		return nil
	}
	for i, m := range t.messages {
		if m.id != msgID {
			continue
		}
		removed := make([]Message, 0, len(t.messages)-i)
		for _, rm := range t.messages[i:] {
			removed = append(removed, rm.snapshot())
		}
		t.messages = t.messages[:i]
		t.updatedAt = time.Now()
		return removed
	}
	log.Warn(log.CatStore, "truncate from unknown message", "tab", tabID, "message", msgID)
	return nil
}

// ----------------------------------------------------------------------------
// Tool-call tracker
// ----------------------------------------------------------------------------

// AddToolCall attaches a tool call to a message. A call whose ID is
// already present is merged as an update instead of duplicated.
func (s *Store) AddToolCall(tabID, msgID string, call ToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(tabID, msgID, "add tool call")
	if m == nil {
		return false
	}
	for i := range m.toolCalls {
		if m.toolCalls[i].ID == call.ID {
			mergeToolCall(&m.toolCalls[i], ToolCallUpdate{
				Status: call.Status,
				Result: call.Result,
				Error:  call.Error,
			})
			if call.Arguments != "" {
				m.toolCalls[i].Arguments = call.Arguments
			}
			s.tabs[tabID].updatedAt = time.Now()
			return true
		}
	}
	if call.Status == "" {
		call.Status = ToolPending
	}
	m.toolCalls = append(m.toolCalls, call)
	s.tabs[tabID].updatedAt = time.Now()
	return true
}

// UpdateToolCall merges a partial update into an existing tool call.
// Updates for unknown calls are dropped with a warning.
func (s *Store) UpdateToolCall(tabID, msgID, callID string, upd ToolCallUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(tabID, msgID, "update tool call")
	if m == nil {
		return false
	}
	for i := range m.toolCalls {
		if m.toolCalls[i].ID == callID {
			mergeToolCall(&m.toolCalls[i], upd)
			s.tabs[tabID].updatedAt = time.Now()
			return true
		}
	}
	log.Warn(log.CatStore, "update unknown tool call", "tab", tabID, "call", callID)
	return false
}

func mergeToolCall(dst *ToolCall, upd ToolCallUpdate) {
	if upd.Status != "" {
		dst.Status = upd.Status
	}
	if upd.Result != "" {
		dst.Result = upd.Result
	}
	if upd.Error != "" {
		dst.Error = upd.Error
	}
}

// findMessage must be called with s.mu held.
func (s *Store) findMessage(tabID, msgID, op string) *message {
	t, ok := s.tabs[tabID]
	if !ok {
		log.Warn(log.CatStore, op+" on unknown tab", "tab", tabID)
		return nil
	}
	for _, m := range t.messages {
		if m.id == msgID {
			return m
		}
	}
	log.Warn(log.CatStore, op+" on unknown message", "tab", tabID, "message", msgID)
	return nil
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(id string) int {
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}
