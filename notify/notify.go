package notify

import (
	"context"

	internal "github.com/TFMV/vigil/internal/notify"
)

// Re-export the engine types.
type (
	// Channel is one open notification session; all watches registered
	// on it share a single event queue and dispatch loop.
	Channel = internal.Channel

	// FallbackWatcher is the fsnotify-backed portable alternative to
	// Channel.
	FallbackWatcher = internal.FallbackWatcher

	// Event is one decoded filesystem notification.
	Event = internal.Event

	// Mask is a bitset of filesystem event classes, wire-compatible with
	// the native notification facility.
	Mask = internal.Mask

	// Sink receives decoded events on the dispatch goroutine.
	Sink = internal.Sink

	// Options configures a Channel or FallbackWatcher.
	Options = internal.Options

	// LogLevel defines the verbosity of engine logging.
	LogLevel = internal.LogLevel
)

// Watchable event classes.
const (
	Access       = internal.Access
	Modify       = internal.Modify
	Attrib       = internal.Attrib
	CloseWrite   = internal.CloseWrite
	CloseNoWrite = internal.CloseNoWrite
	Opened       = internal.Opened
	MovedFrom    = internal.MovedFrom
	MovedTo      = internal.MovedTo
	Create       = internal.Create
	Delete       = internal.Delete
	DeleteSelf   = internal.DeleteSelf
	MoveSelf     = internal.MoveSelf
	AllEvents    = internal.AllEvents
)

// Informational bits set by the kernel on delivered events.
const (
	Unmount   = internal.Unmount
	QOverflow = internal.QOverflow
	Ignored   = internal.Ignored
	IsDir     = internal.IsDir
)

// Log levels.
const (
	LogLevelError = internal.LogLevelError
	LogLevelWarn  = internal.LogLevelWarn
	LogLevelInfo  = internal.LogLevelInfo
	LogLevelDebug = internal.LogLevelDebug
)

// Errors returned by the registration API and the dispatch loop.
var (
	ErrChannelUnavailable = internal.ErrChannelUnavailable
	ErrInvalidPath        = internal.ErrInvalidPath
	ErrUnsupported        = internal.ErrUnsupported
	ErrUnknownHandle      = internal.ErrUnknownHandle
	ErrShortRead          = internal.ErrShortRead
	ErrChannelClosed      = internal.ErrChannelClosed
)

// Open allocates a new native notification session from the OS.
func Open(opts Options) (*Channel, error) {
	return internal.Open(opts)
}

// NewFallbackWatcher opens an fsnotify-backed session for platforms without
// the native facility.
func NewFallbackWatcher(opts Options) (*FallbackWatcher, error) {
	return internal.NewFallbackWatcher(opts)
}

// ParseMask converts a comma-separated list of event class names into a
// Mask, reporting any unknown names.
func ParseMask(s string) (Mask, []string) {
	return internal.ParseMask(s)
}

// Watch is a convenience wrapper: it opens a channel, registers every path
// with mask, and runs the dispatch loop on the calling goroutine until ctx
// is cancelled. Cancelling ctx closes the channel, which is the engine's
// shutdown path.
func Watch(ctx context.Context, paths []string, mask Mask, sink Sink, opts Options) error {
	ch, err := internal.Open(opts)
	if err != nil {
		return err
	}
	defer ch.Close()

	for _, path := range paths {
		if _, err := ch.AddWatch(path, mask); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ch.Close()
		case <-done:
		}
	}()

	return ch.Serve(ctx, sink)
}
