package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, dir string, exts []string) *Watcher {
	t.Helper()
	w, err := New(Config{
		RepoRoot:       dir,
		DebounceDelay:  10 * time.Millisecond,
		FileExtensions: exts,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// waitDirty polls DrainDirty until it returns something or the deadline
// passes.
func waitDirty(t *testing.T, w *Watcher) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if dirty := w.DrainDirty(); len(dirty) > 0 {
			return dirty
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func TestWatcherSeesFileChange(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.java"), []byte("class A {}"), 0644))

	dirty := waitDirty(t, w)
	assert.Contains(t, dirty, "A.java")
}

func TestWatcherFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir, []string{".java"})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.java"), []byte("class B {}"), 0644))

	dirty := waitDirty(t, w)
	assert.Contains(t, dirty, "B.java")
	assert.NotContains(t, dirty, "notes.txt")
}

func TestWatcherIgnoresExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	w := newTestWatcher(t, dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "index"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "C.java"), []byte("class C {}"), 0644))

	dirty := waitDirty(t, w)
	assert.Contains(t, dirty, "C.java")
	for _, p := range dirty {
		assert.NotContains(t, p, ".git")
	}
}

func TestDrainDirtyEmptyReturnsNil(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), nil)
	assert.Nil(t, w.DrainDirty())
}
