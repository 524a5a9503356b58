package commitlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/veltadb/pkg/logging"
	"github.com/cuemby/veltadb/pkg/metrics"
)

// Sink is the durability collaborator a segment writes through: the
// external durability sink of spec.md §6, narrowed to what a single
// segment file needs. The default implementation wraps *os.File; tests
// substitute one that fails after a configured byte budget to exercise
// the ENOSPC recovery path (spec.md §8 property 9).
type Sink interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Opener creates the Sink backing a newly started segment file.
type Opener func(path string) (Sink, error)

func defaultOpener(path string) (Sink, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Writer appends commits to a segmented log directory, rolling over to a
// fresh segment when the active one would exceed maxSegmentSize.
type Writer struct {
	mu             sync.Mutex
	dir            string
	maxSegmentSize int64
	durability     Level
	opener         Opener

	active      Sink
	activeName  string
	activeSize  int64
	activeStart uint64

	nextOffset    uint64
	durableOffset uint64
	closed        bool
}

// OpenWriter opens (creating dir if absent) a writer that resumes
// appending after the log's last good commit, tolerating a torn tail left
// by a prior crash or ENOSPC event (spec.md §4.7 "Write path").
func OpenWriter(dir string, maxSegmentSize int64, durability Level) (*Writer, error) {
	return openWriter(dir, maxSegmentSize, durability, defaultOpener)
}

func openWriter(dir string, maxSegmentSize int64, durability Level, opener Opener) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("commitlog: create dir: %w", err)
	}
	w := &Writer{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		durability:     durability,
		opener:         opener,
	}

	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		if err := w.rollover(0); err != nil {
			return nil, err
		}
		return w, nil
	}

	// Scan the final segment up to its first torn or corrupt commit to find
	// the resume point; a replaying reader reports a corrupt final commit as
	// a ChecksumError, while recovery simply stops there.
	lastGood, size, err := recoverResumePoint(segs)
	if err != nil {
		return nil, err
	}
	w.nextOffset = lastGood
	w.durableOffset = lastGood

	last := segs[len(segs)-1]
	// Discard any bytes past the last well-formed commit so the next
	// Append physically overwrites the torn tail rather than following it
	// (spec.md §8 scenario S6: the bad commit becomes unreadable once a
	// new commit is written).
	if err := os.Truncate(last.path, size); err != nil {
		return nil, fmt.Errorf("commitlog: truncate torn tail of %s: %w", last.path, err)
	}
	sink, err := opener(last.path)
	if err != nil {
		return nil, fmt.Errorf("commitlog: reopen segment %s: %w", last.path, err)
	}
	w.active = sink
	w.activeName = last.path
	w.activeStart = last.startOffset
	w.activeSize = size
	return w, nil
}

// Append frames payload as a commit and writes it to the active segment,
// rolling over first if it would not fit, and retrying into a fresh
// segment if the write itself fails partway (ENOSPC recovery). It returns
// the tx_offset assigned to the commit's first record.
func (w *Writer) Append(payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("commitlog: writer closed")
	}
	n, err := recordCount(payload)
	if err != nil {
		return 0, err
	}
	frame := encodeFrame(payload)

	if w.activeSize > 0 && w.activeSize+int64(len(frame)) > w.maxSegmentSize {
		if err := w.rollover(w.nextOffset); err != nil {
			return 0, err
		}
	}

	timer := metrics.NewTimer()
	if err := w.writeFrame(frame); err != nil {
		return 0, err
	}
	timer.ObserveDuration(metrics.CommitLogWriteDuration)

	if w.durability == Strict {
		if err := w.active.Sync(); err != nil {
			return 0, fmt.Errorf("commitlog: fsync: %w", err)
		}
	}

	offset := w.nextOffset
	w.nextOffset += uint64(n)
	w.durableOffset = w.nextOffset
	metrics.CommitLogWritesTotal.Inc()
	metrics.CommitLogWriteBytesTotal.Add(float64(len(frame)))
	return offset, nil
}

// writeFrame writes frame to the active segment, retrying into a fresh
// segment once if the write fails or is short (spec.md §4.7: "the commit
// that could not be fully written is re-issued into a fresh segment and
// the torn tail in the old segment is not rewritten").
func (w *Writer) writeFrame(frame []byte) error {
	n, err := w.active.Write(frame)
	if err == nil && n == len(frame) {
		w.activeSize += int64(n)
		return nil
	}

	tornBytes := n
	if tornBytes < 0 {
		tornBytes = 0
	}
	metrics.CommitLogTornTailBytes.Add(float64(tornBytes))
	logging.WithComponent("commitlog").Warn().
		Str("segment", w.activeName).
		Int("bytes_written", tornBytes).
		Err(err).
		Msg("partial write to active segment; rolling over")

	if rerr := w.rollover(w.nextOffset); rerr != nil {
		return fmt.Errorf("commitlog: write failed (%v) and rollover failed: %w", err, rerr)
	}
	n2, err2 := w.active.Write(frame)
	if err2 != nil || n2 != len(frame) {
		return fmt.Errorf("commitlog: retry write into fresh segment failed: %w", err2)
	}
	w.activeSize += int64(n2)
	return nil
}

// rollover closes the active segment (best-effort fsync) and opens a new
// one named for startOffset.
func (w *Writer) rollover(startOffset uint64) error {
	if w.active != nil {
		_ = w.active.Sync()
		_ = w.active.Close()
	}
	path := filepath.Join(w.dir, segmentFileName(startOffset))
	sink, err := w.opener(path)
	if err != nil {
		return fmt.Errorf("commitlog: open segment %s: %w", path, err)
	}
	if err := writeSegmentHeaderTo(sink, startOffset); err != nil {
		return err
	}
	w.active = sink
	w.activeName = path
	w.activeStart = startOffset
	w.activeSize = segmentHeaderSize
	metrics.CommitLogSegmentRollovers.Inc()
	return nil
}

func writeSegmentHeaderTo(sink Sink, startOffset uint64) error {
	var buf [segmentHeaderSize]byte
	le32put := func(b []byte, v uint32) {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		b[3] = byte(v >> 24)
	}
	le32put(buf[0:4], segmentMagic)
	le32put(buf[4:8], segmentFormatVersion)
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(startOffset >> (8 * i))
	}
	_, err := sink.Write(buf[:])
	return err
}

// DurableOffset returns the tx_offset the next record will be assigned;
// every commit below it has been written at the writer's durability level.
func (w *Writer) DurableOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.durableOffset
}

// Close flushes and closes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.active == nil {
		return nil
	}
	if err := w.active.Sync(); err != nil {
		return err
	}
	return w.active.Close()
}
