package blob

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/page"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("hello, blob store")
	hash, err := s.Put(data)
	require.NoError(t, err)

	got, ok := s.Get(hash)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestDedupByContentHash(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("duplicate content")
	h1, err := s.Put(data)
	require.NoError(t, err)
	h2, err := s.Put(data)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, 2, s.RefCount(h1))
}

func TestRefcountDeletesOnZero(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	data := []byte("transient")
	hash, err := s.Put(data)
	require.NoError(t, err)
	s.Inc(hash)
	require.Equal(t, 2, s.RefCount(hash))

	s.Dec(hash)
	require.Equal(t, 1, s.RefCount(hash))
	_, ok := s.Get(hash)
	require.True(t, ok)

	s.Dec(hash)
	require.Equal(t, 0, s.RefCount(hash))
	_, ok = s.Get(hash)
	require.False(t, ok)
}

func TestLargeBlobBypassesCache(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	big := make([]byte, defaultCacheThreshold+1000)
	for i := range big {
		big[i] = byte(i)
	}
	hash, err := s.Put(big)
	require.NoError(t, err)
	_, cached := s.cache[hash]
	require.False(t, cached)

	got, ok := s.Get(hash)
	require.True(t, ok)
	require.Equal(t, big, got)
}

func TestOpenRebuildsRefsFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	data := []byte("persisted")
	hash, err := s1.Put(data)
	require.NoError(t, err)

	s2, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, 1, s2.RefCount(hash))
	got, ok := s2.Get(hash)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestHashesEnumeratesLiveBlobs(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	h1, err := s.Put([]byte("a"))
	require.NoError(t, err)
	h2, err := s.Put([]byte("b"))
	require.NoError(t, err)

	hashes := s.Hashes()
	require.ElementsMatch(t, []page.BlobHash{h1, h2}, hashes)
}
