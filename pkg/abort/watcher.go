// Package abort watches for the out-of-band abort signal file.
package abort

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	holonlog "github.com/holon-run/mission/pkg/log"
)

// DefaultPollInterval is how often the signal path is checked.
const DefaultPollInterval = time.Second

// State is the watcher lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateWatching  State = "watching"
	StateTriggered State = "triggered"
	StateStopped   State = "stopped"
)

// Config configures a Watcher.
type Config struct {
	Path string
	// PollInterval is the fallback poll period. fsnotify events on the parent
	// directory shorten detection when available.
	PollInterval time.Duration
}

// Watcher detects the abort signal file. It fires at most once per instance.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	state   State
	aborted bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWatcher returns an idle watcher.
func NewWatcher(cfg Config) *Watcher {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{path: cfg.Path, interval: interval, state: StateIdle}
}

// Path returns the watched signal path.
func (w *Watcher) Path() string {
	return w.path
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WasAborted reports whether the signal was detected.
func (w *Watcher) WasAborted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aborted
}

// Start begins watching. onAbort runs once, on the watcher's goroutine, after
// the signal file has been removed. Start fails unless the watcher is idle.
func (w *Watcher) Start(ctx context.Context, onAbort func()) error {
	if w.path == "" {
		return fmt.Errorf("abort signal path is required")
	}

	w.mu.Lock()
	if w.state != StateIdle {
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("abort watcher already %s", st)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.state = StateWatching
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	holonlog.Debug("watching for abort signal", "path", w.path, "interval", w.interval)

	go func() {
		fired := w.run(ctx)
		cancel()
		if !fired {
			w.mu.Lock()
			if w.state == StateWatching {
				w.state = StateStopped
			}
			w.mu.Unlock()
		}
		close(w.done)
		if fired {
			holonlog.Warn("abort signal received", "path", w.path)
			if onAbort != nil {
				onAbort()
			}
		}
	}()
	return nil
}

// Stop halts watching. It is safe to call from any state, more than once,
// and from inside the onAbort callback.
func (w *Watcher) Stop() {
	w.mu.Lock()
	switch w.state {
	case StateIdle, StateWatching:
		w.state = StateStopped
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run returns true if the signal was detected.
func (w *Watcher) run(ctx context.Context) bool {
	if w.check() {
		return true
	}

	events, closeWatch := w.watchDir()
	defer closeWatch()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			if w.check() {
				return true
			}
		case <-ticker.C:
			if w.check() {
				return true
			}
		}
	}
}

// watchDir subscribes to the signal file's directory. A nil channel means
// fsnotify is unavailable and the ticker alone drives detection.
func (w *Watcher) watchDir() (<-chan fsnotify.Event, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		holonlog.Debug("fsnotify unavailable; polling abort signal", "error", err)
		return nil, func() {}
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		holonlog.Debug("cannot watch abort signal dir; polling", "dir", filepath.Dir(w.path), "error", err)
		return nil, func() {}
	}

	go func() {
		for err := range watcher.Errors {
			holonlog.Debug("fsnotify error", "error", err)
		}
	}()
	return watcher.Events, func() { _ = watcher.Close() }
}

// check transitions watching → triggered if the file exists.
func (w *Watcher) check() bool {
	if _, err := os.Stat(w.path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			holonlog.Debug("abort signal stat failed", "path", w.path, "error", err)
		}
		return false
	}

	w.mu.Lock()
	if w.state != StateWatching {
		w.mu.Unlock()
		return false
	}
	w.state = StateTriggered
	w.aborted = true
	w.mu.Unlock()

	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		holonlog.Warn("failed to remove abort signal", "path", w.path, "error", err)
	}
	return true
}
