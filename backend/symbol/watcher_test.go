package symbol

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileWatcherReportsWatchedFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "app")
	other := filepath.Join(dir, "other")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("v1"), 0o644))

	watcher, err := NewFileWatcher([]string{watched})
	require.NoError(t, err)
	defer watcher.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Run(ctx, func(path string) { changes <- path })
	}()

	require.NoError(t, os.WriteFile(other, []byte("v2"), 0o644))
	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o644))

	select {
	case path := <-changes:
		require.Equal(t, watched, path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestFileWatcherStopsOnRelease(t *testing.T) {
	watcher, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "app")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- watcher.Run(context.Background(), func(string) {})
	}()

	require.NoError(t, watcher.Release())
	require.NoError(t, <-done)
}
