package vigil

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The kernel packs events as a fixed header followed by an optional
// NUL-padded name:
//
//	wd     int32
//	mask   uint32
//	cookie uint32
//	len    uint32
//	name   [len]byte
//
// Integers are in native byte order. Records are laid out back to back with
// no alignment between them beyond the NUL padding already counted in len.
const headerSize = 16

// decodeEvents parses complete event records out of buf, in order.
//
// It returns the decoded events plus the number of trailing bytes that did
// not form a complete record; the caller prepends those to its next read.
// A buffer shorter than one header cannot be the prefix of a valid stream
// and is reported as ErrShortRead. decodeEvents never consumes a record
// partially: either a record's full extent fits in buf and it is emitted,
// or all of its bytes are counted as leftover.
func decodeEvents(buf []byte) ([]Event, int, error) {
	if len(buf) < headerSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrShortRead, len(buf))
	}

	var events []Event
	pos := 0
	for len(buf)-pos >= headerSize {
		header := buf[pos : pos+headerSize]
		wd := int32(binary.NativeEndian.Uint32(header[0:4]))
		mask := Mask(binary.NativeEndian.Uint32(header[4:8]))
		cookie := binary.NativeEndian.Uint32(header[8:12])
		nameLen := binary.NativeEndian.Uint32(header[12:16])

		total := headerSize + int(nameLen)
		if total > len(buf)-pos {
			// Truncated trailing record. Hand it back for the next read.
			break
		}

		ev := Event{WD: wd, Mask: mask, Cookie: cookie}
		if nameLen > 0 {
			ev.Name = decodeName(buf[pos+headerSize : pos+total])
		}
		events = append(events, ev)
		pos += total
	}
	return events, len(buf) - pos, nil
}

// decodeName strips the NUL padding the kernel appends to align records.
func decodeName(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}
