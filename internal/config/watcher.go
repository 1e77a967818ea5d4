package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchInterval is the fallback polling period of a [Watcher].
const DefaultWatchInterval = 5 * time.Second

// eventSettle is how long a Watcher waits after the last file event before
// reading, so a save that truncates and then writes is read once.
const eventSettle = 100 * time.Millisecond

// Watcher follows a config file and publishes every new valid version.
// Filesystem events on the file's directory trigger a reload, so editors
// that save by renaming a temporary file are seen too; a slow poll backs
// them up. A file that fails to parse, overlay or validate is reported
// once per distinct content and otherwise ignored; the previous config
// stays current.
type Watcher struct {
	path     string
	name     string
	interval time.Duration
	onChange func(old, new *Config)
	overlay  func(*Config) error
	onReject func(error)

	mu       sync.Mutex
	current  *Config
	mtime    time.Time
	hash     [sha256.Size]byte
	rejected [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOverlay sets a function applied to every freshly parsed config before
// it is published, typically environment and flag overrides. A non-nil
// error rejects the file.
func WithOverlay(fn func(*Config) error) WatcherOption {
	return func(w *Watcher) { w.overlay = fn }
}

// WithRejectHandler replaces the default warning logged when a changed
// file is rejected.
func WithRejectHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher loads path once and returns a Watcher holding it. Watching
// starts with [Watcher.Run]. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		name:     filepath.Clean(path),
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	w.onReject = func(err error) {
		slog.Warn("config watcher: changed file rejected, keeping previous config", "path", w.path, "err", err)
	}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := w.parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.mtime, w.hash = cfg, mtime, sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file until ctx is done and then returns nil. onChange is
// called from Run's goroutine. When filesystem notifications are
// unavailable Run falls back to polling alone.
func (w *Watcher) Run(ctx context.Context) error {
	events, errs, stop := w.notify()
	defer stop()

	// Catch edits made between NewWatcher and the watch being set up.
	w.check(false)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(false)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == w.name && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) {
				settle = time.After(eventSettle)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: notification error", "path", w.path, "err", err)
		case <-settle:
			settle = nil
			w.check(true)
		}
	}
}

// notify watches the file's directory. Watching the directory rather than
// the file keeps working after a rename replaces the file's inode. On
// failure both channels are nil and only polling remains.
func (w *Watcher) notify() (<-chan fsnotify.Event, <-chan error, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher: notifications unavailable, polling only", "path", w.path, "err", err)
		return nil, nil, func() {}
	}
	if err := fw.Add(filepath.Dir(w.name)); err != nil {
		_ = fw.Close()
		slog.Warn("config watcher: cannot watch directory, polling only", "path", w.path, "err", err)
		return nil, nil, func() {}
	}
	return fw.Events, fw.Errors, func() { _ = fw.Close() }
}

// check reloads the file when its content changed. Unless force is set, a
// file whose mtime has not moved is not read at all.
func (w *Watcher) check(force bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged && !force {
		return
	}

	data, mtime, err := w.read()
	if err != nil {
		slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	w.mtime = mtime
	if hash == w.hash || hash == w.rejected {
		// Touched, or the same broken content saved again.
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := w.parse(data)
	if err != nil {
		w.mu.Lock()
		w.rejected = hash
		w.mu.Unlock()
		w.onReject(err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current, w.hash = cfg, hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() ([]byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// parse decodes, overlays and validates data.
func (w *Watcher) parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("config file is empty")
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if w.overlay != nil {
		if err := w.overlay(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
