// Package watcher keeps the index in step with directories on disk: files
// that are created or written are re-ingested after a debounce, files that
// disappear are deleted.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/bunsho/internal/models"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period after the last write before a file is ingested.
const DefaultDebounce = 400 * time.Millisecond

// Target receives file changes. indexer.Indexer satisfies it.
type Target interface {
	IngestFile(ctx context.Context, path string, allowedExts []string) (*models.IngestResult, error)
	DeleteFile(ctx context.Context, path string) error
}

// Options selects what the watcher observes.
type Options struct {
	Roots      []string
	Extensions []string
	Recursive  bool
	Debounce   time.Duration
}

// Stats counts the work done since Start.
type Stats struct {
	Ingested int64 `json:"ingested"`
	Skipped  int64 `json:"skipped"`
	Removed  int64 `json:"removed"`
	Failed   int64 `json:"failed"`
}

// root is a watched directory and the fsnotify watches registered for it.
type root struct {
	path    string
	watches []string
}

// Watcher watches directories and forwards debounced changes to a Target.
// Dot files and anything inside a dot directory below a root are ignored.
type Watcher struct {
	target     Target
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	notify  *fsnotify.Watcher
	ctx     context.Context
	roots   []*root
	pending map[string]*time.Timer
	done    chan struct{}
	stop    sync.Once

	ingested, skipped, removed, failed atomic.Int64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for watch events and failures.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher forwarding changes under opts.Roots to target.
// An empty extension list accepts every file.
func New(target Target, opts Options, wopts ...WatcherOption) *Watcher {
	w := &Watcher{
		target:     target,
		extensions: append([]string(nil), opts.Extensions...),
		recursive:  opts.Recursive,
		debounce:   opts.Debounce,
		ctx:        context.Background(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	for _, p := range opts.Roots {
		w.roots = append(w.roots, &root{path: p})
	}
	for _, opt := range wopts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start registers the configured roots, creating any that are missing, and
// processes events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.notify != nil {
		w.mu.Unlock()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.notify = fw
	w.ctx = ctx
	for _, r := range w.roots {
		if abs, err := filepath.Abs(r.path); err == nil {
			r.path = abs
		}
		r.path = filepath.Clean(r.path)
		if err := w.watchRootLocked(r); err != nil {
			_ = fw.Close()
			w.notify = nil
			w.mu.Unlock()
			return err
		}
	}
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.rootPathsLocked()),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	w.mu.Unlock()

	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.visible(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// a rename reports the old name; the new name arrives as Create
		w.cancel(path)
		if matchExtension(path, w.extensions) {
			w.remove(path)
		}
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
		w.addSubtree(path)
		return
	}
	if matchExtension(path, w.extensions) {
		w.schedule(path)
	}
}

// visible reports whether path lies under a root without passing through a
// dot file or dot directory on the way.
func (w *Watcher) visible(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		rel, err := filepath.Rel(r.path, path)
		if err != nil || !inDir(r.path, path) {
			continue
		}
		return !hidden(rel)
	}
	return false
}

func hidden(rel string) bool {
	if rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
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

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
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

func (w *Watcher) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	ctx := w.runContext()
	if ctx.Err() != nil {
		return
	}
	res, err := w.target.IngestFile(ctx, path, w.extensions)
	switch {
	case err != nil:
		w.failed.Add(1)
		w.logger.Warn("watcher ingest failed", zap.String("path", path), zap.Error(err))
	case res != nil && res.Skipped:
		w.skipped.Add(1)
	default:
		w.ingested.Add(1)
		w.logger.Debug("watcher ingested file", zap.String("path", path))
	}
}

func (w *Watcher) remove(path string) {
	ctx := w.runContext()
	if ctx.Err() != nil {
		return
	}
	if err := w.target.DeleteFile(ctx, path); err != nil {
		w.failed.Add(1)
		w.logger.Warn("watcher delete failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.removed.Add(1)
	w.logger.Debug("watcher removed file", zap.String("path", path))
}

// dirsUnder lists the directories to watch for dir: dir itself and, when
// recursive, every visible directory below it.
func (w *Watcher) dirsUnder(dir string) ([]string, error) {
	if !w.recursive {
		return []string{dir}, nil
	}
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func (w *Watcher) watchRootLocked(r *root) error {
	if err := os.MkdirAll(r.path, 0755); err != nil {
		return err
	}
	dirs, err := w.dirsUnder(r.path)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := w.notify.Add(d); err != nil {
			return err
		}
	}
	r.watches = dirs
	return nil
}

// addSubtree watches a directory that appeared under a root and ingests
// the files it already holds.
func (w *Watcher) addSubtree(dir string) {
	dirs, err := w.dirsUnder(dir)
	if err != nil {
		w.logger.Debug("watcher walk failed", zap.String("path", dir), zap.Error(err))
	}
	w.mu.Lock()
	if w.notify == nil {
		w.mu.Unlock()
		return
	}
	owner := w.ownerLocked(dir)
	for _, d := range dirs {
		if err := w.notify.Add(d); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", d), zap.Error(err))
			continue
		}
		if owner != nil {
			owner.watches = append(owner.watches, d)
		}
	}
	w.mu.Unlock()
	w.sync(dir)
}

func (w *Watcher) ownerLocked(path string) *root {
	for _, r := range w.roots {
		if inDir(r.path, path) {
			return r
		}
	}
	return nil
}

// sync ingests every matching file under dir. The target skips files whose
// content is unchanged.
func (w *Watcher) sync(dir string) {
	w.logger.Debug("watcher syncing directory", zap.String("root", dir))
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && matchExtension(path, w.extensions) {
			w.ingest(path)
		}
		return nil
	})
}

// AddDirectory starts watching dir as a new root. Adding a root twice is a
// no-op. With syncExisting the files already there are ingested in the
// background.
func (w *Watcher) AddDirectory(dir string, syncExisting bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notify == nil {
		return nil
	}
	for _, r := range w.roots {
		if r.path == abs {
			return nil
		}
	}
	r := &root{path: abs}
	if err := w.watchRootLocked(r); err != nil {
		return err
	}
	w.roots = append(w.roots, r)
	w.logger.Info("watching directory", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.sync(abs)
	}
	return nil
}

// RemoveDirectory stops watching a root. Documents already ingested from it
// stay in the index.
func (w *Watcher) RemoveDirectory(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notify == nil {
		return nil
	}
	for i, r := range w.roots {
		if r.path != abs {
			continue
		}
		for _, d := range r.watches {
			_ = w.notify.Remove(d)
		}
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("stopped watching directory", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots in the order they were added.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rootPathsLocked()
}

func (w *Watcher) rootPathsLocked() []string {
	paths := make([]string, len(w.roots))
	for i, r := range w.roots {
		paths[i] = r.path
	}
	return paths
}

// SyncExistingFiles ingests the files already present in each root.
// Call it after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, dir := range w.Directories() {
		w.sync(dir)
	}
}

// Stats returns counters for the work done so far.
func (w *Watcher) Stats() Stats {
	return Stats{
		Ingested: w.ingested.Load(),
		Skipped:  w.skipped.Load(),
		Removed:  w.removed.Load(),
		Failed:   w.failed.Load(),
	}
}

// Stop cancels pending ingests and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.notify == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.notify.Close()
	w.notify = nil
	w.mu.Unlock()
	w.stop.Do(func() { close(w.done) })
}
