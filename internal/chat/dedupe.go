package chat

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chenadu5299/binder/internal/log"
)

// chunkFilter suppresses duplicated stream chunks. Some providers
// resend the tail of the response after a reconnect, which would
// double text in the transcript if appended blindly. The filter keeps
// the accumulated text per tab and rejects chunks that repeat what was
// already appended.
type chunkFilter struct {
	mu    sync.Mutex
	texts map[string][]byte
}

func newChunkFilter() *chunkFilter {
	return &chunkFilter{texts: make(map[string][]byte)}
}

// Admit reports whether a chunk should be appended, recording it when
// admitted. Empty chunks are always rejected.
func (f *chunkFilter) Admit(tabID, text string) bool {
	if text == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	accumulated := string(f.texts[tabID])
	n := len(text)

	// Exact repeat of the current tail.
	if strings.HasSuffix(accumulated, text) {
		log.Warn(log.CatStream, "duplicate chunk dropped (tail repeat)", "tab", tabID, "chunk", clipChunk(text))
		return false
	}

	// Short chunks that already form a back-to-back pattern near the tail.
	if n <= 5 && len(accumulated) >= n*2 {
		window := min(n*10, len(accumulated))
		tail := tailAtRuneBoundary(accumulated, window)
		if strings.Contains(tail, text+text) {
			log.Warn(log.CatStream, "duplicate chunk dropped (pattern)", "tab", tabID, "chunk", clipChunk(text))
			return false
		}
	}

	// Chunks occurring two or more times in the recent tail.
	if window := min(n*5, len(accumulated)); window > 0 {
		tail := tailAtRuneBoundary(accumulated, window)
		if strings.Count(tail, text) >= 2 {
			log.Warn(log.CatStream, "duplicate chunk dropped (recurring)", "tab", tabID, "chunk", clipChunk(text))
			return false
		}
	}

	f.texts[tabID] = append(f.texts[tabID], text...)
	return true
}

// Reset clears the accumulated text for a tab ahead of a new response.
func (f *chunkFilter) Reset(tabID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.texts, tabID)
}

// Accumulated returns the text admitted so far for a tab.
func (f *chunkFilter) Accumulated(tabID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.texts[tabID])
}

// tailAtRuneBoundary returns the last window bytes of s, nudged
// forward so the slice starts on a rune boundary.
func tailAtRuneBoundary(s string, window int) string {
	start := len(s) - window
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func clipChunk(s string) string {
	const maxBytes = 50
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}
