package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sagaforge/sagaforge/pkg/logger"
)

// Watcher reloads the configuration file when it changes on disk and fans
// the new Config out to registered callbacks. Editors that replace the file
// instead of writing in place produce create events, so both are handled.
type Watcher struct {
	mu        sync.Mutex
	fs        *fsnotify.Watcher
	loader    *Loader
	path      string
	log       logger.Logger
	callbacks []func(*Config)
	debounce  time.Duration
	stop      chan struct{}
	active    bool
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long bursts of file events are coalesced before a
// reload. Editors often emit several writes per save.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatchLogger sets the logger used for reload diagnostics.
func WithWatchLogger(log logger.Logger) WatcherOption {
	return func(w *Watcher) {
		w.log = log
	}
}

// NewWatcher creates a watcher for the given configuration file.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:       fs,
		loader:   loader,
		path:     path,
		log:      logger.Global(),
		debounce: 500 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange registers a callback invoked with each successfully reloaded
// Config. Callbacks run on their own goroutines; a panicking callback is
// recovered and logged.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Watch blocks, reloading on file changes, until the context ends or Stop
// is called. Only one Watch may run per Watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.active = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
	}()

	if err := w.fs.Add(w.path); err != nil {
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stop:
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			// Coalesce the burst: every event pushes the reload out by
			// the debounce interval.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stop)
	if w.fs != nil {
		return w.fs.Close()
	}
	return nil
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path, nil)
	if err != nil {
		w.log.Error("config reload failed, keeping previous configuration", "path", w.path, "error", err)
		return
	}
	w.log.Info("configuration reloaded", "path", w.path)

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, cb := range callbacks {
		go func(notify func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error("config change callback panicked", "panic", r)
				}
			}()
			notify(cfg)
		}(cb)
	}
}
