// internal/watch/watcher.go
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Rebuild is called once per quiet period after the watched trees change
type Rebuild func(ctx context.Context) error

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnore skips any path with a component matching one of the patterns
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, patterns...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// Watcher watches directory trees recursively and coalesces bursts of
// filesystem events into single rebuilds.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rebuild  Rebuild
	debounce time.Duration
	ignore   []string
	logger   *zap.Logger

	mu    sync.Mutex
	roots []string
}

func New(rebuild Rebuild, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		rebuild:  rebuild,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add watches root and every directory below it
func (w *Watcher) Add(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots = append(w.roots, root)
	w.mu.Unlock()

	return w.addTree(root)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			w.logger.Warn("Skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

// Run processes events until ctx is done. Rebuild errors are logged and do
// not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			pending = false
			start := time.Now()
			if err := w.rebuild(ctx); err != nil {
				w.logger.Error("rebuild failed", zap.Error(err))
				continue
			}
			w.logger.Info("Rebuilt", zap.Duration("took", time.Since(start)))
		}
	}
}

// Close releases the watcher without running it
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// handle reports whether the event should trigger a rebuild
func (w *Watcher) handle(event fsnotify.Event) bool {
	if w.ignored(event.Name) {
		return false
	}
	if event.Op == fsnotify.Chmod {
		return false
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	}

	w.logger.Debug("Change detected",
		zap.String("path", event.Name),
		zap.String("op", event.Op.String()))
	return true
}

func (w *Watcher) ignored(name string) bool {
	if len(w.ignore) == 0 {
		return false
	}

	w.mu.Lock()
	rel := name
	for _, root := range w.roots {
		if r, err := filepath.Rel(root, name); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
			break
		}
	}
	w.mu.Unlock()

	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, pattern := range w.ignore {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}
