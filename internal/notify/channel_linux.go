//go:build linux

package vigil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Channel is one open notification session. All watches registered on it
// share a single kernel event queue and a single dispatch loop.
//
// AddWatch and RemoveWatch may be called from any goroutine, including
// while Serve is blocked waiting for events; the kernel serializes watch
// mutation against in-flight reads.
type Channel struct {
	fd      int
	wake    [2]int // pipe used to interrupt a blocked Serve on Close
	bufSize int
	logger  *zap.Logger

	closed  atomic.Bool
	serving atomic.Bool

	mu    sync.Mutex
	paths map[int32]string // watch descriptor table
}

// Open allocates a new notification session from the OS.
func Open(opts Options) (*Channel, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = createLogger(opts.LogLevel)
	}

	bufSize := opts.ReadBufferSize
	if bufSize < minReadBufferSize {
		bufSize = defaultReadBufferSize
	}

	return &Channel{
		fd:      fd,
		wake:    wake,
		bufSize: bufSize,
		logger:  logger,
		paths:   make(map[int32]string),
	}, nil
}

// AddWatch registers interest in path for the event classes in mask and
// returns the watch handle. The kernel begins queuing matching events
// immediately. Watching the same path again replaces its mask and returns
// the same handle.
func (c *Channel) AddWatch(path string, mask Mask) (int32, error) {
	if c.closed.Load() {
		return -1, ErrChannelClosed
	}

	wd, err := unix.InotifyAddWatch(c.fd, path, uint32(mask))
	if err != nil {
		switch err {
		case unix.ENOENT, unix.ENOTDIR:
			return -1, fmt.Errorf("%w: %s", ErrInvalidPath, path)
		case unix.EINVAL, unix.ENOSPC:
			return -1, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		default:
			return -1, fmt.Errorf("vigil: add watch %s: %w", path, err)
		}
	}

	c.mu.Lock()
	c.paths[int32(wd)] = path
	c.mu.Unlock()

	c.logger.Debug("watch added",
		zap.Int32("wd", int32(wd)),
		zap.String("path", path),
		zap.Stringer("mask", mask),
	)
	return int32(wd), nil
}

// RemoveWatch deregisters a watch handle. Events already queued for the
// handle before removal may still be delivered. Removing a handle that is
// not registered returns ErrUnknownHandle.
func (c *Channel) RemoveWatch(wd int32) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	// The table entry must go before the syscall: the kernel can reuse
	// the descriptor for a concurrent AddWatch as soon as it is dropped.
	c.mu.Lock()
	path, ok := c.paths[wd]
	if ok {
		delete(c.paths, wd)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, wd)
	}

	if _, err := unix.InotifyRmWatch(c.fd, uint32(wd)); err != nil {
		// The kernel may have dropped the watch on its own, for example
		// when the watched path was deleted.
		c.logger.Debug("remove watch", zap.Int32("wd", wd), zap.Error(err))
	}

	c.logger.Debug("watch removed", zap.Int32("wd", wd), zap.String("path", path))
	return nil
}

// Path returns the path registered for a watch handle.
func (c *Channel) Path(wd int32) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.paths[wd]
	return path, ok
}

// Watches returns a snapshot of the descriptor table.
func (c *Channel) Watches() map[int32]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[int32]string, len(c.paths))
	for wd, path := range c.paths {
		snapshot[wd] = path
	}
	return snapshot
}

// Close releases the notification session. All watch handles issued against
// the channel become invalid and a Serve loop blocked on the channel wakes
// up and returns nil. Closing an already-closed channel is a no-op.
//
// Close is the only way to cancel a running Serve loop.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Wake the dispatch loop before tearing the descriptors down so it
	// observes the closed flag rather than a surprise read error.
	unix.Write(c.wake[1], []byte{0})

	unix.Close(c.fd)
	unix.Close(c.wake[1])
	unix.Close(c.wake[0])

	c.mu.Lock()
	c.paths = make(map[int32]string)
	c.mu.Unlock()

	c.logger.Debug("channel closed")
	return nil
}

// Serve runs the dispatch loop on the calling goroutine: it blocks reading
// the notification stream, decodes complete event records, and invokes sink
// once per event, in arrival order. A nil sink logs each event.
//
// Serve returns nil when the channel is closed, which is the designed
// shutdown path. Any other read or decode failure is logged and returned;
// the channel itself is left open for the caller to release. Sink errors
// and panics are logged and never stop the loop. The context is passed
// through to the sink; cancelling it does not interrupt the blocking read.
//
// At most one Serve loop may run per channel.
func (c *Channel) Serve(ctx context.Context, sink Sink) error {
	if !c.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("vigil: channel already has a dispatch loop")
	}
	defer c.serving.Store(false)

	if c.closed.Load() {
		return nil
	}
	if sink == nil {
		sink = c.logSink()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.Debug("dispatch loop starting", zap.Int("buffer_size", c.bufSize))

	buf := make([]byte, c.bufSize)
	pending := 0 // bytes of a truncated trailing record from the previous read

	for {
		n, err := c.readBlocking(buf[pending:])
		if err != nil {
			if c.closed.Load() {
				c.logger.Debug("dispatch loop stopping, channel closed")
				return nil
			}
			c.logger.Error("notification read failed", zap.Error(err))
			return err
		}

		events, leftover, err := decodeEvents(buf[:pending+n])
		if err != nil {
			c.logger.Error("notification stream malformed", zap.Error(err))
			return err
		}

		for _, ev := range events {
			safeDispatch(ctx, c.logger, sink, ev)
		}

		if leftover > 0 {
			copy(buf, buf[pending+n-leftover:pending+n])
		}
		pending = leftover
	}
}

// readBlocking waits for the notification descriptor to become readable and
// reads one batch of records. Interrupted waits are retried transparently;
// they are not events and not errors.
func (c *Channel) readBlocking(buf []byte) (int, error) {
	for {
		fds := []unix.PollFd{
			{Fd: int32(c.fd), Events: unix.POLLIN},
			{Fd: int32(c.wake[0]), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("vigil: poll: %w", err)
		}
		if fds[1].Revents != 0 {
			// Close wrote the wake byte.
			return 0, ErrChannelClosed
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return 0, fmt.Errorf("vigil: notification descriptor failed")
		}

		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, fmt.Errorf("vigil: read: %w", err)
		}
		if n == 0 {
			return 0, fmt.Errorf("vigil: end of notification stream")
		}
		return n, nil
	}
}

// logSink is the default sink: it logs each event with its watched path
// resolved from the descriptor table.
func (c *Channel) logSink() Sink {
	return func(_ context.Context, ev Event) error {
		path, _ := c.Path(ev.WD)
		c.logger.Info("event",
			zap.Int32("wd", ev.WD),
			zap.Stringer("mask", ev.Mask),
			zap.Uint32("cookie", ev.Cookie),
			zap.String("path", path),
			zap.String("name", ev.Name),
		)
		return nil
	}
}
