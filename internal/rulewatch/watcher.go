// Package rulewatch reloads rule files when they change on disk.
package rulewatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc re-reads the watched file.
type ReloadFunc func(ctx context.Context) error

// Options contains options for configuring a Watcher.
type Options struct {
	// Debounce coalesces bursts of events, as editors often write a file
	// several times when saving.
	Debounce time.Duration
	// PollInterval is the interval to poll for changes when fsnotify misses them.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:     200 * time.Millisecond,
		PollInterval: 5 * time.Second,
	}
}

// Watcher calls a reload function whenever a file changes.
type Watcher struct {
	path    string
	reload  ReloadFunc
	opts    Options
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	modTime time.Time
	size    int64
	closed  bool

	reloads  atomic.Int64
	failures atomic.Int64
}

// New creates a watcher for path. The file does not have to exist yet.
func New(path string, reload ReloadFunc, opts Options) (*Watcher, error) {
	def := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		path:    absPath,
		reload:  reload,
		opts:    opts,
		logger:  opts.Logger.With("component", "rulewatch", "path", absPath),
		watcher: fw,
	}
	w.modTime, w.size = w.stat()
	return w, nil
}

// Run watches the file until ctx is cancelled. It watches the directory so
// files replaced by rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.opts.Debounce)
			} else {
				debounce.Reset(w.opts.Debounce)
			}
			fire = debounce.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-fire:
			fire = nil
			w.modTime, w.size = w.stat()
			w.doReload(ctx)
		case <-ticker.C:
			// Fallback polling for filesystems where fsnotify is unreliable.
			if w.changed() {
				w.doReload(ctx)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) stat() (time.Time, int64) {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}, -1
	}
	return info.ModTime(), info.Size()
}

func (w *Watcher) changed() bool {
	mod, size := w.stat()
	if mod.Equal(w.modTime) && size == w.size {
		return false
	}
	w.modTime, w.size = mod, size
	return size >= 0
}

func (w *Watcher) doReload(ctx context.Context) {
	if err := w.reload(ctx); err != nil {
		w.failures.Add(1)
		w.logger.Error("rule reload failed", "error", err)
		return
	}
	w.reloads.Add(1)
	w.logger.Info("rules reloaded from file")
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns the number of failed reloads.
func (w *Watcher) Failures() int64 { return w.failures.Load() }

// Close releases the fsnotify watcher.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.watcher.Close()
}
