// Package vigil implements a filesystem change-notification engine.
//
// A Channel multiplexes watches for any number of paths over a single OS
// notification session. Events are decoded from the kernel's packed record
// stream and handed to a caller-supplied sink, one at a time, in arrival
// order, on a dedicated dispatch goroutine.
package vigil

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Errors returned by the registration API and the dispatch loop.
var (
	// ErrChannelUnavailable means the OS refused to allocate a
	// notification session.
	ErrChannelUnavailable = errors.New("vigil: notification channel unavailable")

	// ErrInvalidPath means AddWatch was given a path that does not exist.
	ErrInvalidPath = errors.New("vigil: watch path does not exist")

	// ErrUnsupported means the OS rejected the watch request or the
	// platform has no native notification facility.
	ErrUnsupported = errors.New("vigil: watch not supported")

	// ErrUnknownHandle means RemoveWatch was given a handle that is not
	// registered on the channel.
	ErrUnknownHandle = errors.New("vigil: unknown watch handle")

	// ErrShortRead means the notification stream produced fewer bytes
	// than one event header; the stream is malformed and the dispatch
	// loop stops.
	ErrShortRead = errors.New("vigil: short read on notification channel")

	// ErrChannelClosed means the channel was already released.
	ErrChannelClosed = errors.New("vigil: channel is closed")
)

// Event is one decoded filesystem notification.
//
// Name is the path of the affected entry relative to the watched directory,
// or empty when the event concerns the watched path itself. An Event is only
// valid for the duration of one sink call.
type Event struct {
	WD     int32  // watch handle the event was queued against
	Mask   Mask   // event classes that occurred
	Cookie uint32 // correlates paired moved_from/moved_to events
	Name   string // affected entry, empty for the watched path itself
}

// Sink receives decoded events. It is invoked synchronously on the dispatch
// goroutine, one event at a time, in arrival order; a slow sink stalls all
// further delivery on its channel. A returned error is logged and delivery
// continues with the next event.
type Sink func(ctx context.Context, ev Event) error

// LogLevel defines the verbosity of engine logging.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Options configures a Channel.
type Options struct {
	// Logger overrides the engine's own logger when set.
	Logger *zap.Logger

	// LogLevel selects the verbosity of the engine's logger when Logger
	// is nil.
	LogLevel LogLevel

	// ReadBufferSize sets the size of the buffer handed to each blocking
	// read. It must hold at least one maximum-length event record;
	// values below that minimum are raised to the default.
	ReadBufferSize int
}

// defaultReadBufferSize comfortably holds a batch of records with
// NAME_MAX-sized names.
const defaultReadBufferSize = 64 * 1024

// minReadBufferSize is one header plus a NAME_MAX name and trailing NUL.
const minReadBufferSize = headerSize + 255 + 1

// safeDispatch hands one event to the sink. Sink errors and panics stop
// here; they must never reach the read path.
func safeDispatch(ctx context.Context, logger *zap.Logger, sink Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sink panicked",
				zap.Int32("wd", ev.WD),
				zap.Stringer("mask", ev.Mask),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sink(ctx, ev); err != nil {
		logger.Warn("sink error",
			zap.Int32("wd", ev.WD),
			zap.Stringer("mask", ev.Mask),
			zap.String("name", ev.Name),
			zap.Error(err),
		)
	}
}

func createLogger(level LogLevel) *zap.Logger {
	var config zap.Config

	switch level {
	case LogLevelError:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case LogLevelWarn:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case LogLevelInfo:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case LogLevelDebug:
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, _ := config.Build()
	return logger
}
