package workspace_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chenadu5299/binder/internal/workspace"
)

func startWatcher(t *testing.T, root string) <-chan struct{} {
	t.Helper()
	w, err := workspace.NewWatcher(workspace.WatcherConfig{
		Root:        root,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	onChange, err := w.Start()
	require.NoError(t, err, "failed to start watcher")
	return onChange
}

func TestWatcher_DebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(file, []byte("initial"), 0o644))

	onChange := startWatcher(t, dir)

	// Rapid writes should coalesce into a single notification.
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(file, []byte(fmt.Sprintf("rev %d", i)), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_IgnoresHiddenAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".git-lock")
	swp := filepath.Join(dir, "notes.md.swp")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(swp, []byte("x"), 0o644))

	onChange := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(hidden, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(swp, []byte("y"), 0o644))

	select {
	case <-onChange:
		t.Fatal("hidden and temp files must not trigger notifications")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_NotifiesOnCreate(t *testing.T) {
	dir := t.TempDir()
	onChange := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.md"), []byte("x"), 0o644))

	select {
	case <-onChange:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification for created file")
	}
}
