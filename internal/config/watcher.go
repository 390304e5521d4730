package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Change describes an accepted edit of the watched file.
type Change struct {
	Old, New *Config
	Diff     ConfigDiff
}

// Watcher keeps the last valid config from a file current. It polls the
// file and can be asked to [Watcher.Reload] on demand, for example on
// SIGHUP. Edits that fail to parse or validate are logged and ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(Change)

	// reloadMu serializes reloads so callbacks see changes in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	hash    [sha256.Size]byte
	mtime   time.Time

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s. Zero or negative
// disables polling, leaving only [Watcher.Reload].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// NewWatcher loads path and starts watching it. onChange, when non-nil, is
// called for every accepted edit whose content differs from the current
// config, even when the resulting [ConfigDiff] is empty (comment edits).
func NewWatcher(path string, onChange func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.hash, w.mtime = cfg, sha256.Sum256(data), mtime

	if w.interval > 0 {
		go w.poll()
	} else {
		close(w.stopped)
	}
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight callback. It is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

// Reload re-reads the file now, regardless of its modification time. It
// reports whether the config changed; an invalid file leaves the current
// config in place and returns the error.
func (w *Watcher) Reload() (bool, error) {
	return w.reload(true)
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if _, err := w.reload(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

func (w *Watcher) reload(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		w.mu.Lock()
		unchanged := info.ModTime().Equal(w.mtime)
		w.mu.Unlock()
		if unchanged {
			return false, nil
		}
	}

	data, mtime, err := w.read()
	if err != nil {
		return false, err
	}
	hash := sha256.Sum256(data)

	w.mu.Lock()
	w.mtime = mtime
	if hash == w.hash {
		w.mu.Unlock()
		return false, nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	old := w.current
	w.current, w.hash = cfg, hash
	w.mu.Unlock()

	change := Change{Old: old, New: cfg, Diff: Diff(old, cfg)}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", change.Diff.LogLevelChanged,
		"insights_changed", change.Diff.InsightsChanged,
		"restart_required", change.Diff.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(change)
	}
	return true, nil
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
