// Package watch is an optional fsnotify-based hot-folder trigger for
// `abc run --watch`: it recursively monitors a root directory and
// fires a trigger once new content has stopped changing for a settle
// period, so the batch orchestrator re-walks the root only after a
// drop finishes copying. Grounded on ListenUpApp-server's
// internal/watcher fallback backend: recursive fsnotify.Add on
// directory creation, and a restart-on-change settle timer rather than
// firing on every individual write.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long the watched tree must be quiet before
// a trigger fires.
const DefaultSettleDelay = 5 * time.Second

// Watcher recursively monitors root and emits a trigger on Triggers()
// once changes underneath it settle.
type Watcher struct {
	root        string
	settleDelay time.Duration
	fsw         *fsnotify.Watcher

	triggers chan struct{}
	errs     chan error

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Watcher rooted at root and adds a recursive watch over
// its current contents. settleDelay <= 0 uses DefaultSettleDelay.
func New(root string, settleDelay time.Duration) (*Watcher, error) {
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:        root,
		settleDelay: settleDelay,
		fsw:         fsw,
		triggers:    make(chan struct{}, 1),
		errs:        make(chan error, 8),
		done:        make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	return w, nil
}

// addRecursive adds a watch on dir and every directory beneath it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// Run processes fsnotify events until ctx is cancelled or Stop is
// called. It must run in its own goroutine; consume Triggers() from
// another goroutine concurrently.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addRecursive(event.Name)
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settleDelay, w.fireTrigger)
}

func (w *Watcher) fireTrigger() {
	select {
	case w.triggers <- struct{}{}:
	default:
	}
}

// Triggers returns a channel that receives one value each time the
// watched tree settles after a burst of changes. Buffered at 1: a
// trigger already pending is not duplicated.
func (w *Watcher) Triggers() <-chan struct{} {
	return w.triggers
}

// Errors returns a channel of errors forwarded from fsnotify. It is
// buffered at 8; errors arriving while it is full are dropped.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop releases the underlying fsnotify watcher and any pending timer.
func (w *Watcher) Stop() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
	})
	return err
}
