// Package watcher reloads boundary files when the boundary directory changes.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per path after its events settled.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration.
type Config struct {
	Root     string                 // Directory watched with all subdirectories
	Debounce time.Duration          // Quiet period before a path is handled
	Filter   func(path string) bool // Paths to handle, all if nil
}

// Watcher watches a directory tree for boundary file changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	pending map[string]*pending
	wg      sync.WaitGroup
}

// pending is a debounced event waiting for its timer.
type pending struct {
	op    Operation
	timer *time.Timer
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Filter == nil {
		cfg.Filter = func(string) bool { return true }
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		cfg:       cfg,
		pending:   make(map[string]*pending),
	}, nil
}

// Start watches the root directory and its subdirectories until ctx is done
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	root, err := filepath.Abs(w.cfg.Root)
	if err != nil {
		return err
	}
	if err := w.addTree(root); err != nil {
		return err
	}
	w.logger.Info("watching boundary directory", "path", root)

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for running handlers.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()

	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

// addTree adds dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent records an event and restarts the debounce timer of its path.
func (w *Watcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) && isDir(event.Name) {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
		return
	}
	if !w.cfg.Filter(event.Name) {
		return
	}

	op := toOperation(event.Op)
	w.logger.Debug("file event", "path", event.Name, "op", op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[event.Name]; ok {
		p.op = merge(p.op, op)
		p.timer.Reset(w.cfg.Debounce)
		return
	}

	path := event.Name
	w.pending[path] = &pending{
		op:    op,
		timer: time.AfterFunc(w.cfg.Debounce, func() { w.fire(ctx, path) }),
	}
}

// fire runs the handler for a settled path.
func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if ok {
		delete(w.pending, path)
		w.wg.Add(1)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	defer w.wg.Done()

	if ctx.Err() != nil {
		return
	}

	w.logger.Info("processing file event", "path", path, "operation", p.op.String())
	if err := w.handler(ctx, Event{Path: path, Operation: p.op}); err != nil {
		w.logger.Error("handler error", "path", path, "operation", p.op.String(), "error", err)
	}
}

// merge combines a pending operation with a newer one for the same path.
func merge(prev, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case prev == OpDelete:
		// Deleted and written again.
		return OpCreate
	case prev == OpCreate:
		return OpCreate
	default:
		return next
	}
}

// toOperation converts fsnotify.Op to an Operation. A rename is a delete
// at the old location.
func toOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
