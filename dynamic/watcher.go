package dynamic

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Builder turns authored extension source into loadable code.
// extension.Service satisfies it.
type Builder interface {
	Build(ctx context.Context, code, extensionID string) (string, error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithOnReload sets a callback invoked after a component is reloaded or
// removed. err is nil on success; removed reports a deleted file.
func WithOnReload(fn func(name string, removed bool, err error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

// Watcher monitors a directory of <extensionId>.vue and <extensionId>.js
// files and reloads components when they change.
type Watcher struct {
	loader   *Loader
	builder  Builder
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	onReload func(name string, removed bool, err error)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event time
}

// NewWatcher creates a watcher that rebuilds and reloads extension files in
// dir.
func NewWatcher(loader *Loader, builder Builder, dir string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		builder:  builder,
		dir:      dir,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start loads every extension file already present and then watches for
// changes.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsw

	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		_ = fsw.Close()
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && isExtensionFile(e.Name()) {
			w.handleChange(filepath.Join(w.dir, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !isExtensionFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.handleRemove(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.handleChange(path)
	}
}

func (w *Watcher) handleChange(path string) {
	name := fileToName(path)
	err := w.reload(path, name)
	if err != nil {
		w.logger.Error("failed to reload component", "extension", name, "path", path, "error", err)
	} else {
		w.logger.Info("reloaded component", "extension", name, "path", path)
	}
	if w.onReload != nil {
		w.onReload(name, false, err)
	}
}

func (w *Watcher) reload(path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ctx := context.Background()
	code, err := w.builder.Build(ctx, string(data), name)
	if err != nil {
		return err
	}
	_, err = w.loader.Load(ctx, LoadRequest{
		Code:        code,
		Name:        name,
		UpdatedAt:   info.ModTime(),
		ForceReload: true,
	})
	return err
}

func (w *Watcher) handleRemove(path string) {
	name := fileToName(path)
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
	n := w.loader.Invalidate(name)
	w.logger.Info("component file removed", "extension", name, "evicted", n)
	if w.onReload != nil {
		w.onReload(name, true, nil)
	}
}

func isExtensionFile(name string) bool {
	ext := filepath.Ext(name)
	return (ext == ".vue" || ext == ".js") && !strings.HasPrefix(filepath.Base(name), ".")
}

func fileToName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
