package vigil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FallbackWatcher delivers events through the same Sink contract as Channel
// but is backed by fsnotify instead of the native notification facility. It
// works on every platform fsnotify supports, at the cost of wire fidelity:
// handles are synthesized locally and cookies are never populated.
type FallbackWatcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	closed  atomic.Bool
	serving atomic.Bool

	mu      sync.Mutex
	nextWD  int32
	watches map[int32]fallbackWatch
	byPath  map[string]int32
}

type fallbackWatch struct {
	path string
	mask Mask
}

// NewFallbackWatcher opens an fsnotify session.
func NewFallbackWatcher(opts Options) (*FallbackWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = createLogger(opts.LogLevel)
	}

	return &FallbackWatcher{
		watcher: watcher,
		logger:  logger,
		watches: make(map[int32]fallbackWatch),
		byPath:  make(map[string]int32),
	}, nil
}

// AddWatch registers interest in path. Events are filtered against mask
// before dispatch, since fsnotify always reports every event class.
func (f *FallbackWatcher) AddWatch(path string, mask Mask) (int32, error) {
	if f.closed.Load() {
		return -1, ErrChannelClosed
	}
	if _, err := os.Stat(path); err != nil {
		return -1, fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if wd, ok := f.byPath[path]; ok {
		f.watches[wd] = fallbackWatch{path: path, mask: mask}
		return wd, nil
	}

	if err := f.watcher.Add(path); err != nil {
		return -1, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
	}

	f.nextWD++
	wd := f.nextWD
	f.watches[wd] = fallbackWatch{path: path, mask: mask}
	f.byPath[path] = wd

	f.logger.Debug("watch added",
		zap.Int32("wd", wd),
		zap.String("path", path),
		zap.Stringer("mask", mask),
	)
	return wd, nil
}

// RemoveWatch deregisters a watch handle.
func (f *FallbackWatcher) RemoveWatch(wd int32) error {
	if f.closed.Load() {
		return ErrChannelClosed
	}

	f.mu.Lock()
	w, ok := f.watches[wd]
	if ok {
		delete(f.watches, wd)
		delete(f.byPath, w.path)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, wd)
	}

	if err := f.watcher.Remove(w.path); err != nil {
		f.logger.Debug("remove watch", zap.Int32("wd", wd), zap.Error(err))
	}
	return nil
}

// Path returns the path registered for a watch handle.
func (f *FallbackWatcher) Path(wd int32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.watches[wd]
	return w.path, ok
}

// Watches returns a snapshot of the descriptor table.
func (f *FallbackWatcher) Watches() map[int32]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make(map[int32]string, len(f.watches))
	for wd, w := range f.watches {
		snapshot[wd] = w.path
	}
	return snapshot
}

// Close releases the fsnotify session. A Serve loop blocked on the session
// wakes up and returns nil. Closing twice is a no-op.
func (f *FallbackWatcher) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.watcher.Close()
}

// Serve runs the dispatch loop on the calling goroutine, translating
// fsnotify events into the engine's Event shape and invoking sink once per
// event in arrival order. It returns nil when the watcher is closed or the
// context is cancelled.
func (f *FallbackWatcher) Serve(ctx context.Context, sink Sink) error {
	if !f.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("vigil: watcher already has a dispatch loop")
	}
	defer f.serving.Store(false)

	if sink == nil {
		sink = func(_ context.Context, ev Event) error {
			path, _ := f.Path(ev.WD)
			f.logger.Info("event",
				zap.Int32("wd", ev.WD),
				zap.Stringer("mask", ev.Mask),
				zap.String("path", path),
				zap.String("name", ev.Name),
			)
			return nil
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case raw, ok := <-f.watcher.Events:
			if !ok {
				f.logger.Debug("dispatch loop stopping, watcher closed")
				return nil
			}
			ev, deliver := f.translate(raw)
			if deliver {
				safeDispatch(ctx, f.logger, sink, ev)
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				f.logger.Debug("dispatch loop stopping, watcher closed")
				return nil
			}
			f.logger.Error("watcher error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}

// translate maps an fsnotify event onto the engine's Event shape, resolving
// the watch it was queued against and filtering by that watch's mask.
func (f *FallbackWatcher) translate(raw fsnotify.Event) (Event, bool) {
	var mask Mask
	if raw.Has(fsnotify.Create) {
		mask |= Create
	}
	if raw.Has(fsnotify.Write) {
		mask |= Modify
	}
	if raw.Has(fsnotify.Remove) {
		mask |= Delete
	}
	if raw.Has(fsnotify.Rename) {
		mask |= MovedFrom
	}
	if raw.Has(fsnotify.Chmod) {
		mask |= Attrib
	}

	f.mu.Lock()
	wd, ok := f.byPath[raw.Name]
	if !ok {
		wd, ok = f.byPath[filepath.Dir(raw.Name)]
	}
	var w fallbackWatch
	if ok {
		w = f.watches[wd]
	}
	f.mu.Unlock()

	if !ok || mask&w.mask == 0 {
		return Event{}, false
	}

	ev := Event{WD: wd, Mask: mask & w.mask}
	if raw.Name != w.path {
		ev.Name = filepath.Base(raw.Name)
	}
	return ev, true
}
