package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoopDetector_RepeatedReply(t *testing.T) {
	d := newLoopDetector()

	require.False(t, d.RecordReply("let me check the folder"))
	require.False(t, d.RecordReply("done, here is the summary"))
	require.True(t, d.RecordReply("let me check the folder"))
}

func TestLoopDetector_ReplyComparisonTrimsWhitespace(t *testing.T) {
	d := newLoopDetector()

	require.False(t, d.RecordReply("same answer"))
	require.True(t, d.RecordReply("  same answer \n"))
}

func TestLoopDetector_ReplyWindowExpires(t *testing.T) {
	d := newLoopDetector()

	require.False(t, d.RecordReply("first"))
	for i := 0; i < recentReplyWindow; i++ {
		require.False(t, d.RecordReply(fmt.Sprintf("filler %d", i)))
	}
	// "first" has been pushed out of the window.
	require.False(t, d.RecordReply("first"))
}

func TestLoopDetector_RepeatedToolCall(t *testing.T) {
	d := newLoopDetector()

	require.False(t, d.RecordToolCall("read_file", `{"path":"a.md"}`))
	require.False(t, d.RecordToolCall("read_file", `{"path":"b.md"}`))
	require.True(t, d.RecordToolCall("read_file", `{"path":"a.md"}`))
}

func TestLoopDetector_Reset(t *testing.T) {
	d := newLoopDetector()

	require.False(t, d.RecordReply("answer"))
	require.False(t, d.RecordToolCall("search", "{}"))
	d.Reset()
	require.False(t, d.RecordReply("answer"))
	require.False(t, d.RecordToolCall("search", "{}"))
}
