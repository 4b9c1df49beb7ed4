package chat

import (
	"strings"
	"sync"
)

const (
	recentReplyWindow    = 5
	recentToolCallWindow = 10
)

type toolCallRecord struct {
	name      string
	arguments string
}

// loopDetector watches for the model spinning in place: emitting the
// same reply repeatedly or invoking the same tool with the same
// arguments over and over. Detection is advisory; callers log it and
// stop resubmitting rather than aborting the conversation.
type loopDetector struct {
	mu        sync.Mutex
	replies   []string
	toolCalls []toolCallRecord
}

func newLoopDetector() *loopDetector {
	return &loopDetector{}
}

// RecordReply records a completed reply and reports whether it matches
// one of the recent replies.
func (d *loopDetector) RecordReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, recent := range d.replies {
		if trimmed == recent {
			return true
		}
	}
	d.replies = append(d.replies, trimmed)
	if len(d.replies) > recentReplyWindow {
		d.replies = d.replies[1:]
	}
	return false
}

// RecordToolCall records a tool invocation and reports whether the
// same call appeared in the recent window.
func (d *loopDetector) RecordToolCall(name, arguments string) bool {
	rec := toolCallRecord{name: name, arguments: arguments}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, recent := range d.toolCalls {
		if recent == rec {
			return true
		}
	}
	d.toolCalls = append(d.toolCalls, rec)
	if len(d.toolCalls) > recentToolCallWindow {
		d.toolCalls = d.toolCalls[1:]
	}
	return false
}

// Reset forgets recorded history.
func (d *loopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies = nil
	d.toolCalls = nil
}
