package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"longagent/internal/logging"
)

// PreferencesWatcher watches the gate-preferences JSON file for edits made
// by a process other than the running orchestrator (e.g. a companion TUI),
// re-reading it on change and invoking onChange with the new value. This
// is optional: the orchestrator reads preferences once at startup and
// functions identically with no watcher attached (spec.md §4's fsnotify
// supplement). Debouncing follows the teacher's MangleWatcher (fsnotify +
// a periodic debounce ticker rather than reacting to every raw event).
type PreferencesWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onChange func(GatePreferences)
	debounce time.Duration
	pending  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewPreferencesWatcher watches path (the gate-preferences JSON file) and
// calls onChange whenever it's created or modified.
func NewPreferencesWatcher(path string, onChange func(GatePreferences)) (*PreferencesWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PreferencesWatcher{
		watcher:  w,
		path:     path,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start adds the preferences file's directory to the watch set (fsnotify
// watches directories, not bare files, so renames-into-place are caught)
// and begins the debounced event loop in a goroutine.
func (w *PreferencesWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryConfig).Warn("preferences watcher: failed to watch %s: %v", dir, err)
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher and waits for the event
// loop to exit.
func (w *PreferencesWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *PreferencesWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending
			w.pending = false
			w.mu.Unlock()
			if fire {
				w.onChange(LoadGatePreferences(w.path))
			}
		}
	}
}
