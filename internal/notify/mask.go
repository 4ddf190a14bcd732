package vigil

import "strings"

// Mask is a bitset of filesystem event classes. The bit values match the
// Linux inotify wire format, so masks round-trip unchanged between
// AddWatch and the events delivered by the kernel.
type Mask uint32

// Event classes that can be watched for and reported.
const (
	Access       Mask = 0x00000001 // file was read
	Modify       Mask = 0x00000002 // file was written
	Attrib       Mask = 0x00000004 // metadata changed
	CloseWrite   Mask = 0x00000008 // writable file was closed
	CloseNoWrite Mask = 0x00000010 // read-only file was closed
	Opened       Mask = 0x00000020 // file was opened
	MovedFrom    Mask = 0x00000040 // file moved out of watched directory
	MovedTo      Mask = 0x00000080 // file moved into watched directory
	Create       Mask = 0x00000100 // file or directory created
	Delete       Mask = 0x00000200 // file or directory deleted
	DeleteSelf   Mask = 0x00000400 // watched path itself deleted
	MoveSelf     Mask = 0x00000800 // watched path itself moved
)

// Informational bits set by the kernel on delivered events. They cannot be
// requested in a watch mask.
const (
	Unmount   Mask = 0x00002000 // backing filesystem was unmounted
	QOverflow Mask = 0x00004000 // event queue overflowed
	Ignored   Mask = 0x00008000 // watch was removed
	IsDir     Mask = 0x40000000 // subject of the event is a directory
)

// AllEvents combines every watchable event class.
const AllEvents = Access | Modify | Attrib | CloseWrite | CloseNoWrite |
	Opened | MovedFrom | MovedTo | Create | Delete | DeleteSelf | MoveSelf

// Has reports whether all bits in m are set.
func (m Mask) Has(bits Mask) bool {
	return m&bits == bits
}

var maskNames = []struct {
	bit  Mask
	name string
}{
	{Access, "access"},
	{Modify, "modify"},
	{Attrib, "attrib"},
	{CloseWrite, "close_write"},
	{CloseNoWrite, "close_nowrite"},
	{Opened, "open"},
	{MovedFrom, "moved_from"},
	{MovedTo, "moved_to"},
	{Create, "create"},
	{Delete, "delete"},
	{DeleteSelf, "delete_self"},
	{MoveSelf, "move_self"},
	{Unmount, "unmount"},
	{QOverflow, "overflow"},
	{Ignored, "ignored"},
	{IsDir, "isdir"},
}

// String returns a pipe-separated list of the event class names set in m.
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, n := range maskNames {
		if m&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}

// ParseMask converts a comma-separated list of event class names into a
// Mask. Unknown names are reported back to the caller.
func ParseMask(s string) (Mask, []string) {
	var mask Mask
	var unknown []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		switch name {
		case "all":
			mask |= AllEvents
			continue
		case "write":
			mask |= Modify
			continue
		case "remove":
			mask |= Delete
			continue
		case "move":
			mask |= MovedFrom | MovedTo
			continue
		}
		found := false
		for _, n := range maskNames {
			if n.name == name {
				mask |= n.bit
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	return mask, unknown
}
