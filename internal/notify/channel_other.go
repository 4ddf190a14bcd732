//go:build !linux

package vigil

import "context"

// Channel is only backed by a native notification facility on Linux. Other
// platforms should use the fsnotify-backed FallbackWatcher.
type Channel struct{}

// Open reports that the native engine is unavailable on this platform.
func Open(opts Options) (*Channel, error) {
	return nil, ErrUnsupported
}

func (c *Channel) AddWatch(path string, mask Mask) (int32, error) { return -1, ErrUnsupported }
func (c *Channel) RemoveWatch(wd int32) error                     { return ErrUnsupported }
func (c *Channel) Path(wd int32) (string, bool)                   { return "", false }
func (c *Channel) Watches() map[int32]string                      { return nil }
func (c *Channel) Close() error                                   { return nil }
func (c *Channel) Serve(ctx context.Context, sink Sink) error     { return ErrUnsupported }
