// Package watcher uploads files dropped into inbox directories.
// It watches with fsnotify and debounces bursts of writes to the same file.
package watcher

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/docstat/internal/models"
)

const (
	defaultDebounce      = 400 * time.Millisecond
	defaultUploadTimeout = 30 * time.Second
)

// Uploader stores file content.
type Uploader interface {
	Upload(ctx context.Context, fileName string, content io.Reader) (*models.FileUploadResponse, error)
}

// Result reports one upload attempt. Err is set when reading or uploading failed.
type Result struct {
	Path     string
	Response *models.FileUploadResponse
	Err      error
}

// Inbox watches root directories and uploads every new or changed file.
type Inbox struct {
	roots      []string
	extensions []string
	recursive  bool
	uploader   Uploader
	onResult   func(Result)
	debounce   time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	inflight sync.WaitGroup
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithDebounce sets how long a file must be quiet before it is uploaded.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// WithUploadTimeout bounds each upload.
func WithUploadTimeout(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.timeout = d
		}
	}
}

// OnResult registers a callback invoked after every upload attempt.
func OnResult(fn func(Result)) Option {
	return func(in *Inbox) { in.onResult = fn }
}

// NewInbox creates an inbox over roots. extensions filter which files are
// uploaded (empty = all).
func NewInbox(roots, extensions []string, recursive bool, uploader Uploader, opts ...Option) *Inbox {
	in := &Inbox{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		uploader:   uploader,
		debounce:   defaultDebounce,
		timeout:    defaultUploadTimeout,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start begins watching. Missing roots are created. It runs until ctx is
// cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	in.watcher = w
	for _, root := range in.roots {
		if err := in.addRootLocked(root); err != nil {
			_ = w.Close()
			in.watcher = nil
			return err
		}
	}
	in.ctx = ctx
	in.started = true
	in.logger.Info("Watching inbox",
		zap.Strings("roots", in.roots),
		zap.Strings("extensions", in.extensions),
		zap.Bool("recursive", in.recursive))
	go in.run(ctx, w)
	return nil
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	in.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			in.handleNewDirectory(ev.Name)
			return
		}
		if in.wanted(ev.Name) {
			in.schedule(ev.Name)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		in.cancel(ev.Name)
	}
}

// handleNewDirectory watches a directory created or moved under a root and
// uploads what it already contains.
func (in *Inbox) handleNewDirectory(dir string) {
	in.mu.Lock()
	w := in.watcher
	in.mu.Unlock()
	if w == nil || !in.recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				in.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if in.wanted(path) {
			in.schedule(path)
		}
		return nil
	})
}

func (in *Inbox) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !in.recursive {
		return in.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return in.watcher.Add(path)
	})
}

// wanted reports whether path is a visible file with an accepted extension.
// Dotfiles are skipped so editors' swap files and partial downloads are not uploaded.
func (in *Inbox) wanted(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return matchExtension(path, in.extensions)
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

func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.pending[path]; ok && t.Stop() {
		// The stopped timer's upload will never run.
		in.inflight.Done()
	}
	in.inflight.Add(1)
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		defer in.inflight.Done()
		in.mu.Lock()
		delete(in.pending, path)
		ctx := in.ctx
		in.mu.Unlock()
		in.upload(ctx, path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok && t.Stop() {
		delete(in.pending, path)
		in.inflight.Done()
	}
}

func (in *Inbox) upload(ctx context.Context, path string) {
	res := Result{Path: path}
	defer func() {
		if in.onResult != nil {
			in.onResult(res)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		res.Err = err
		in.logger.Warn("Failed to open inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()
	res.Response, res.Err = in.uploader.Upload(ctx, filepath.Base(path), f)
	if res.Err != nil {
		in.logger.Warn("Upload failed", zap.String("path", path), zap.Error(res.Err))
		return
	}
	in.logger.Info("Uploaded",
		zap.String("path", path),
		zap.String("file_id", res.Response.FileID),
		zap.String("status", string(res.Response.Status)))
}

// SyncExistingFiles uploads every matching file already present under the roots.
// Call this after Start.
func (in *Inbox) SyncExistingFiles() {
	for _, root := range in.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if !in.recursive && filepath.Dir(path) != filepath.Clean(root) {
				return nil
			}
			if in.wanted(path) {
				in.schedule(path)
			}
			return nil
		})
	}
}

// Directories returns a copy of the watched roots.
func (in *Inbox) Directories() []string {
	return append([]string(nil), in.roots...)
}

// Stop stops watching, cancels uploads that have not started, and waits for
// running uploads to finish.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		if t.Stop() {
			in.inflight.Done()
		}
		delete(in.pending, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
	in.inflight.Wait()
}
