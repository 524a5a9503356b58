package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/sats"
)

// memBlobStore is a minimal in-memory BlobStore stand-in for page-level
// tests; the real implementation lives in pkg/blob.
type memBlobStore struct {
	data map[BlobHash][]byte
	refs map[BlobHash]int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{data: map[BlobHash][]byte{}, refs: map[BlobHash]int{}}
}

func (m *memBlobStore) Put(data []byte) (BlobHash, error) {
	var h BlobHash
	copy(h[:], []byte("hash-placeholder-not-real-blake3"))
	// vary by length + a couple of bytes to keep test blobs distinct
	h[0] = byte(len(data))
	if len(data) > 0 {
		h[1] = data[0]
		h[2] = data[len(data)-1]
	}
	m.data[h] = append([]byte(nil), data...)
	m.refs[h]++
	return h, nil
}

func (m *memBlobStore) Get(hash BlobHash) ([]byte, bool) {
	b, ok := m.data[hash]
	return b, ok
}

func (m *memBlobStore) Inc(hash BlobHash) { m.refs[hash]++ }
func (m *memBlobStore) Dec(hash BlobHash) {
	m.refs[hash]--
	if m.refs[hash] <= 0 {
		delete(m.data, hash)
		delete(m.refs, hash)
	}
}

func testRowType() *sats.Type {
	return sats.Product(
		sats.Field{Name: "id", Type: sats.U64()},
		sats.Field{Name: "name", Type: sats.String()},
		sats.Field{Name: "score", Type: sats.F64()},
	)
}

func TestInsertReadDeleteCycle(t *testing.T) {
	rowType := testRowType()
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)

	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	v := sats.ProductValue(sats.U64Value(42), sats.StringValue("alice"), sats.F64Value(3.5))
	slot, err := pg.Insert(v, layout, blobs)
	require.NoError(t, err)
	require.True(t, pg.Present(slot))
	require.Equal(t, 1, pg.RowCount())

	got, err := pg.ReadValue(slot, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(v, got))

	name, err := pg.ReadColumn(slot, layout, layout.ColumnByName("name"), blobs)
	require.NoError(t, err)
	require.Equal(t, "alice", name.Str)

	require.NoError(t, pg.Delete(slot, layout, blobs))
	require.False(t, pg.Present(slot))
	require.Equal(t, 0, pg.RowCount())
}

func TestInsertFillsPageThenFails(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "n", Type: sats.U8()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	max := pg.MaxRows()
	require.Greater(t, max, 0)
	for i := 0; i < max; i++ {
		_, err := pg.Insert(sats.ProductValue(sats.U8Value(uint8(i))), layout, blobs)
		require.NoError(t, err)
	}
	require.True(t, pg.IsFull())
	_, err = pg.Insert(sats.ProductValue(sats.U8Value(0)), layout, blobs)
	require.Error(t, err)
}

func TestReuseSlotAfterDelete(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "n", Type: sats.U32()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	slot, err := pg.Insert(sats.ProductValue(sats.U32Value(1)), layout, blobs)
	require.NoError(t, err)
	require.NoError(t, pg.Delete(slot, layout, blobs))

	slot2, err := pg.Insert(sats.ProductValue(sats.U32Value(2)), layout, blobs)
	require.NoError(t, err)
	require.Equal(t, slot, slot2)
}

func TestVarLenBlobSpill(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "blob", Type: sats.Bytes()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	big := make([]byte, SpillThreshold+100)
	for i := range big {
		big[i] = byte(i)
	}
	v := sats.ProductValue(sats.BytesValue(big))
	slot, err := pg.Insert(v, layout, blobs)
	require.NoError(t, err)
	require.Len(t, blobs.data, 1)

	got, err := pg.ReadValue(slot, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(v, got))

	require.NoError(t, pg.Delete(slot, layout, blobs))
	require.Empty(t, blobs.data)
}

func TestVarLenGranuleChain(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "s", Type: sats.String()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	s := make([]byte, GranuleDataSize*3+7)
	for i := range s {
		s[i] = byte('a' + i%26)
	}
	v := sats.ProductValue(sats.StringValue(string(s)))
	slot, err := pg.Insert(v, layout, blobs)
	require.NoError(t, err)
	require.Empty(t, blobs.data)

	got, err := pg.ReadValue(slot, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(v, got))
}

// TestSpillThresholdBoundaryFitsGranuleArena guards against SpillThreshold
// being chosen independently of the granule arena's actual capacity: a
// value whose encoded length lands exactly at the threshold must still fit
// a single fresh page's granule chain, and one byte over must spill.
func TestSpillThresholdBoundaryFitsGranuleArena(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "s", Type: sats.String()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)

	// String encodes as a 4-byte length prefix plus the payload, so
	// SpillThreshold-4 payload bytes gives an encoded length of exactly
	// SpillThreshold.
	atThreshold := make([]byte, SpillThreshold-4)
	for i := range atThreshold {
		atThreshold[i] = byte('a' + i%26)
	}
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()
	v := sats.ProductValue(sats.StringValue(string(atThreshold)))
	slot, err := pg.Insert(v, layout, blobs)
	require.NoError(t, err, "a value exactly at SpillThreshold must fit the granule arena")
	require.Empty(t, blobs.data)
	got, err := pg.ReadValue(slot, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(v, got))

	overThreshold := make([]byte, SpillThreshold-3)
	pg2 := New(layout.FixedRowSize)
	blobs2 := newMemBlobStore()
	v2 := sats.ProductValue(sats.StringValue(string(overThreshold)))
	_, err = pg2.Insert(v2, layout, blobs2)
	require.NoError(t, err)
	require.Len(t, blobs2.data, 1, "one byte over SpillThreshold must spill to the blob store")
}

func TestRowsPerPageDeterministic(t *testing.T) {
	m1, g1 := RowsPerPage(40)
	m2, g2 := RowsPerPage(40)
	require.Equal(t, m1, m2)
	require.Equal(t, g1, g2)
	require.Greater(t, m1, 0)
	require.Greater(t, g1, 0)
}

func TestResetClearsRows(t *testing.T) {
	rowType := sats.Product(sats.Field{Name: "n", Type: sats.U32()})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	_, err = pg.Insert(sats.ProductValue(sats.U32Value(1)), layout, blobs)
	require.NoError(t, err)
	require.Equal(t, 1, pg.RowCount())

	pg.Reset(layout.FixedRowSize)
	require.Equal(t, 0, pg.RowCount())
	require.False(t, pg.IsFull())
}
