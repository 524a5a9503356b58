// Package commitlog implements the segmented, append-only commit log that
// durably records every committed transaction's encoded effects
// (spec.md §4.7): a sequence of on-disk segment files, each a header
// followed by length-prefixed, CRC-guarded commit records.
package commitlog

import (
	"encoding/binary"
	"fmt"
	"os"
)

// segmentMagic identifies a commit log segment file.
const segmentMagic = 0x4c4f4753 // "LOGS"

// segmentFormatVersion is bumped whenever the header or framing changes
// incompatibly.
const segmentFormatVersion = 1

// segmentHeaderSize is magic(4) + version(4) + startOffset(8).
const segmentHeaderSize = 16

// commitHeaderSize is length(4) + crc(4), preceding each commit's payload.
const commitHeaderSize = 8

// segmentFileName renders the canonical name for a segment whose first
// commit is at startOffset, matching the zero-padded layout in
// spec.md §6's persisted state layout.
func segmentFileName(startOffset uint64) string {
	return fmt.Sprintf("%020d.log", startOffset)
}

// writeSegmentHeader writes the fixed header for a newly created segment.
func writeSegmentHeader(f *os.File, startOffset uint64) error {
	var buf [segmentHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint32(buf[4:8], segmentFormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], startOffset)
	_, err := f.Write(buf[:])
	return err
}

// readSegmentHeader parses and validates a segment's header, returning the
// offset of the first commit it contains.
func readSegmentHeader(buf []byte) (startOffset uint64, err error) {
	if len(buf) < segmentHeaderSize {
		return 0, fmt.Errorf("commitlog: segment header truncated: got %d bytes, want %d", len(buf), segmentHeaderSize)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != segmentMagic {
		return 0, fmt.Errorf("commitlog: bad segment magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != segmentFormatVersion {
		return 0, fmt.Errorf("commitlog: unsupported segment format version %d", version)
	}
	startOffset = binary.LittleEndian.Uint64(buf[8:16])
	return startOffset, nil
}
