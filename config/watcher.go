package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithWatchDebounce sets how long events settle before a reload.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *ConfigWatcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *ConfigWatcher) { w.logger = l }
}

// ConfigWatcher reloads a FileSource when its content changes. The parent
// directory is watched so editors that save by rename are noticed.
type ConfigWatcher struct {
	source   *FileSource
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ConfigChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	timer    *time.Timer
	lastHash string
}

// NewConfigWatcher creates a ConfigWatcher. onChange only sees configs
// that loaded and validated.
func NewConfigWatcher(source *FileSource, onChange func(ConfigChangeEvent), opts ...WatcherOption) *ConfigWatcher {
	w := &ConfigWatcher{
		source:   source,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start records the current hash and begins watching.
func (w *ConfigWatcher) Start() error {
	hash, err := w.source.Hash(context.Background())
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}
	w.fsWatcher = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher. It is safe to call more than once.
func (w *ConfigWatcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()
	target := filepath.Clean(w.source.Path())
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// ConfigMap mounts swap a ..data symlink rather than the file.
			if filepath.Clean(ev.Name) != target && filepath.Base(ev.Name) != "..data" {
				continue
			}
			w.schedule()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *ConfigWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	ctx := context.Background()
	hash, err := w.source.Hash(ctx)
	if err != nil {
		w.logger.Error("config watcher: failed to hash config", "path", w.source.Path(), "error", err)
		return
	}

	w.mu.Lock()
	old := w.lastHash
	w.mu.Unlock()
	if hash == old {
		return
	}

	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Error("config watcher: rejected config", "path", w.source.Path(), "error", err)
		return
	}
	w.mu.Lock()
	w.lastHash = hash
	w.mu.Unlock()

	w.logger.Info("config changed", "path", w.source.Path(), "old_hash", old[:8], "new_hash", hash[:8])
	w.onChange(ConfigChangeEvent{
		Source:  w.source.Name(),
		OldHash: old,
		NewHash: hash,
		Config:  cfg,
		Time:    time.Now(),
	})
}
