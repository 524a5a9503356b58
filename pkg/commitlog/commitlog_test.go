package commitlog

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// payload builds a minimal envelope: a u32 LE record count followed by
// numRecords*recordSize filler bytes, mirroring the BSATN array framing
// recordCount relies on without needing a full codec round-trip in tests.
func payload(numRecords int, recordSize int) []byte {
	buf := make([]byte, 4+numRecords*recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(numRecords))
	for i := 4; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	return buf
}

func collectAll(t *testing.T, dir string) []Commit {
	t.Helper()
	r := OpenReader(dir)
	it, err := r.TransactionsFrom(0)
	require.NoError(t, err)
	var out []Commit
	for {
		c, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, c)
	}
	return out
}

// TestReopenYieldsAllCommitsInOrder is scenario S3.
func TestReopenYieldsAllCommitsInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1<<20, Strict)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := w.Append(payload(1, 8))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	commits := collectAll(t, dir)
	require.Len(t, commits, 10)
	for i, c := range commits {
		require.Equal(t, uint64(i), c.Offset)
	}
}

// faultSink simulates an ENOSPC writer: writes beyond its byte budget fail
// partway, exercising the writer's fresh-segment retry path.
type faultSink struct {
	f       *os.File
	budget  int64
	written int64
}

var errSimulatedENOSPC = errors.New("commitlog: simulated ENOSPC")

func (s *faultSink) Write(p []byte) (int, error) {
	remaining := s.budget - s.written
	if remaining <= 0 {
		return 0, errSimulatedENOSPC
	}
	if int64(len(p)) > remaining {
		n, werr := s.f.Write(p[:remaining])
		s.written += int64(n)
		if werr != nil {
			return n, werr
		}
		return n, errSimulatedENOSPC
	}
	n, err := s.f.Write(p)
	s.written += int64(n)
	return n, err
}

func (s *faultSink) Sync() error  { return s.f.Sync() }
func (s *faultSink) Close() error { return s.f.Close() }

func faultOpener(budget int64) Opener {
	return func(path string) (Sink, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		return &faultSink{f: f, budget: budget}, nil
	}
}

// TestPartialWriteRecoveryYieldsContiguousLog is property 9 / scenario S5.
func TestPartialWriteRecoveryYieldsContiguousLog(t *testing.T) {
	dir := t.TempDir()
	opener := faultOpener(800)

	w, err := openWriter(dir, 1024, Relaxed, opener)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := w.Append(payload(5, 32))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	commits := collectAll(t, dir)
	total := 0
	for _, c := range commits {
		n, err := recordCount(c.Payload)
		require.NoError(t, err)
		total += int(n)
	}
	require.Equal(t, 500, total)

	w2, err := openWriter(dir, 1024, Relaxed, opener)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err := w2.Append(payload(5, 32))
		require.NoError(t, err)
	}
	require.NoError(t, w2.Close())

	commits = collectAll(t, dir)
	total = 0
	for _, c := range commits {
		n, err := recordCount(c.Payload)
		require.NoError(t, err)
		total += int(n)
	}
	require.Equal(t, 1000, total)
}

// TestCorruptedFinalCommit is property 10 / scenario S6.
func TestCorruptedFinalCommit(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 1<<20, Strict)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(payload(1, 16))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	flipLastCommitByte(t, segs[0].path)

	commits, iterErr := readUntilError(t, dir)
	require.Len(t, commits, 4)
	var checksumErr *ChecksumError
	require.True(t, errors.As(iterErr, &checksumErr))
	require.Equal(t, uint64(4), checksumErr.Offset)

	w2, err := OpenWriter(dir, 1<<20, Strict)
	require.NoError(t, err)
	offset, err := w2.Append(payload(1, 16))
	require.NoError(t, err)
	require.Equal(t, uint64(4), offset)
	require.NoError(t, w2.Close())

	commits = collectAll(t, dir)
	require.Len(t, commits, 5)
	for i, c := range commits {
		require.Equal(t, uint64(i), c.Offset)
	}
}

func readUntilError(t *testing.T, dir string) ([]Commit, error) {
	t.Helper()
	r := OpenReader(dir)
	it, err := r.TransactionsFrom(0)
	require.NoError(t, err)
	var out []Commit
	for {
		c, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

// flipLastCommitByte corrupts one payload byte of the last commit in a
// segment file, leaving its length/crc header bytes in place so the
// corruption is only detectable by recomputing the checksum.
func flipLastCommitByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), segmentHeaderSize+commitHeaderSize)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestSegmentFileNaming(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(dir, 64, Strict)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(payload(1, 32))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segs), 1, "small max segment size should force rollovers")
	for _, s := range segs {
		require.True(t, filepath.IsAbs(s.path) || filepath.Dir(s.path) == dir)
		require.Equal(t, segmentFileName(s.startOffset), filepath.Base(s.path))
	}
}
