// Package watcher watches project directories with fsnotify and reports
// debounced file changes to a Handler.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives file events. Calls may come from several goroutines.
type Handler interface {
	FileChanged(ctx context.Context, path string)
	FileRemoved(ctx context.Context, path string)
}

// Watcher watches root directories and forwards changes of files with an
// allowed extension. Removals are forwarded for any path, since a removed
// directory carries no extension.
type Watcher struct {
	extensions []string
	recursive  bool
	handler    Handler
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	roots    []string
	fsw      *fsnotify.Watcher
	pending  map[string]*time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a file must be quiet before FileChanged fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher. extensions filters changed files (empty means all).
func New(roots, extensions []string, recursive bool, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		handler:    handler,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for i, root := range w.roots {
		if abs, err := filepath.Abs(root); err == nil {
			w.roots[i] = abs
		}
	}
	return w
}

// Start begins watching. Roots must exist. The watcher runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := w.addTree(fsw, root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.fsw = fsw
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// AddRoot starts watching dir. Adding a watched root is a no-op. Before Start
// the root is only recorded.
func (w *Watcher) AddRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.addTree(w.fsw, abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher root added", zap.String("path", abs))
	return nil
}

// RemoveRoot stops watching dir and drops its pending events. Directories
// still covered by another root stay watched. Unknown roots are ignored.
func (w *Watcher) RemoveRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	w.roots = append(w.roots[:idx:idx], w.roots[idx+1:]...)
	for path, t := range w.pending {
		if under(abs, path) && !w.coveredLocked(path) {
			t.Stop()
			delete(w.pending, path)
		}
	}
	if w.fsw != nil {
		for _, path := range w.fsw.WatchList() {
			if (path == abs || under(abs, path)) && !w.coveredLocked(path) {
				_ = w.fsw.Remove(path)
			}
		}
	}
	w.logger.Debug("watcher root removed", zap.String("path", abs))
	return nil
}

// coveredLocked reports whether path lies within a remaining root.
func (w *Watcher) coveredLocked(path string) bool {
	for _, r := range w.roots {
		if path == r || (under(r, path) && (w.recursive || filepath.Dir(path) == r)) {
			return true
		}
	}
	return false
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	path := ev.Name
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.cancel(path)
		w.handler.FileRemoved(ctx, path)
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && w.recursive && !hidden(filepath.Base(path)) {
			w.handleNewDirectory(ctx, fsw, path)
		}
		return
	}
	if info.Mode().IsRegular() && matchExtension(path, w.extensions) {
		w.schedule(ctx, path)
	}
}

// handleNewDirectory watches a directory that appeared under a root and
// schedules the files already inside it, since their create events may have
// fired before the watch was added.
func (w *Watcher) handleNewDirectory(ctx context.Context, fsw *fsnotify.Watcher, dir string) {
	if err := w.addTree(fsw, dir); err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && matchExtension(path, w.extensions) {
			w.schedule(ctx, path)
		}
		return nil
	})
}

// addTree watches dir, and its non-hidden subdirectories when recursive.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.handler.FileChanged(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// Stop stops watching and drops pending events. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() {
		close(w.done)
		if fsw != nil {
			_ = fsw.Close()
		}
	})
}

// under reports whether path lies strictly inside dir.
func under(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
