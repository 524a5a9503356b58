package commitlog

import "fmt"

// Level is the durability contract a Writer enforces on every Append.
type Level int

const (
	// Relaxed acknowledges a commit once the OS has accepted the write;
	// fsync happens only at segment rollover and on Close.
	Relaxed Level = iota
	// Strict fsyncs after every commit before returning it as durable.
	Strict
)

func (l Level) String() string {
	if l == Strict {
		return "strict"
	}
	return "relaxed"
}

// Commit is one record read back from the log: the tx_offset assigned to
// its first logical record, and the raw BSATN envelope payload the
// datastore decodes into records (spec.md §4.7).
type Commit struct {
	Offset  uint64
	Payload []byte
}

// ChecksumError reports a crc mismatch encountered while reading the log
// at a non-tolerated position (spec.md §7 "Log-replay errors").
type ChecksumError struct {
	Segment string
	Offset  uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("commitlog: checksum mismatch in segment %s at offset %d", e.Segment, e.Offset)
}

// OutOfOrderError reports a segment whose first commit's offset does not
// follow contiguously from the previous segment's last good commit.
type OutOfOrderError struct {
	Segment  string
	Got      uint64
	Expected uint64
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("commitlog: segment %s begins at offset %d, expected %d", e.Segment, e.Got, e.Expected)
}

// recordCount reads the record-count prefix every commit payload carries:
// by convention the envelope is a BSATN array of records, whose first four
// bytes are its u32 LE element count (sats.Encode's array framing). This
// lets the log advance tx_offset per logical record without depending on
// BSATN's full type-directed decoder.
func recordCount(payload []byte) (uint32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("commitlog: payload too short for record envelope: %d bytes", len(payload))
	}
	return le32(payload[0:4]), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
