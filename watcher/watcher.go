// Package watcher observes the working copy for file edits (e.g. a human
// editing concurrently) so the next validator sweep is not skipped. It
// records every matching change under the repo root; edits made by the
// planner's own runners are not told apart from other edits.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a Watcher.
type Config struct {
	// RepoRoot is the directory tree to watch.
	RepoRoot string

	// DebounceDelay is how long to wait for more changes before a batch
	// becomes drainable. Defaults to 500ms.
	DebounceDelay time.Duration

	// FileExtensions to watch (e.g. ".java", ".xml"). Empty means all
	// files.
	FileExtensions []string

	// ExcludeDirs are directory names to skip. Defaults to
	// [".git", "target", "vendor", "node_modules"].
	ExcludeDirs []string

	Logger *slog.Logger
}

// Watcher accumulates changed paths. The planner loop drains
// the accumulated set between tasks and marks its validators stale when
// the set is non-empty.
type Watcher struct {
	cfg        Config
	fsw        *fsnotify.Watcher
	logger     *slog.Logger
	extensions map[string]bool
	excludes   map[string]bool

	mu       sync.Mutex
	dirty    map[string]bool
	lastSeen time.Time

	done     chan struct{}
	loopDone chan struct{}
}

// New creates and starts a watcher over cfg.RepoRoot, recursively
// registering every non-excluded directory.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}
	if len(cfg.ExcludeDirs) == 0 {
		cfg.ExcludeDirs = []string{".git", "target", "vendor", "node_modules"}
	}

	w := &Watcher{
		cfg:        cfg,
		fsw:        fsw,
		logger:     cfg.Logger,
		extensions: make(map[string]bool),
		excludes:   make(map[string]bool),
		dirty:      make(map[string]bool),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	for _, ext := range cfg.FileExtensions {
		w.extensions[ext] = true
	}
	for _, dir := range cfg.ExcludeDirs {
		w.excludes[dir] = true
	}

	if err := w.addRecursive(cfg.RepoRoot); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.excludes[d.Name()] && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// New directories must be registered to keep the watch recursive.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.excludes[filepath.Base(ev.Name)] {
				_ = w.addRecursive(ev.Name)
			}
			return
		}
	}

	if !w.watched(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.cfg.RepoRoot, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	w.mu.Lock()
	w.dirty[rel] = true
	w.lastSeen = time.Now()
	w.mu.Unlock()
	w.logger.Debug("file changed", "path", rel, "op", ev.Op.String())
}

func (w *Watcher) watched(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if w.excludes[part] {
			return false
		}
	}
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[filepath.Ext(path)]
}

// DrainDirty returns and clears the accumulated changed paths. It returns
// nil while a change burst is still inside the debounce window, so a
// half-written save does not trigger a premature validator sweep.
func (w *Watcher) DrainDirty() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.dirty) == 0 {
		return nil
	}
	if time.Since(w.lastSeen) < w.cfg.DebounceDelay {
		return nil
	}
	out := make([]string, 0, len(w.dirty))
	for p := range w.dirty {
		out = append(out, p)
	}
	w.dirty = make(map[string]bool)
	return out
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	<-w.loopDone
	return err
}
