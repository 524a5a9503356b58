package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/blob"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

func sameFile(t *testing.T, a, b string) {
	t.Helper()
	sa, err := os.Stat(a)
	require.NoError(t, err)
	sb, err := os.Stat(b)
	require.NoError(t, err)
	require.True(t, os.SameFile(sa, sb), "expected %s and %s to be hardlinked", a, b)
}

func corrupt(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

type fakeTable struct {
	id    uint32
	pages []*page.Page
}

func (f *fakeTable) TableID() uint32     { return f.id }
func (f *fakeTable) Pages() []*page.Page { return f.pages }

type fakeSource struct {
	tables []TableSource
	blobs  BlobSource
}

func (f *fakeSource) Tables() []TableSource { return f.tables }
func (f *fakeSource) Blobs() BlobSource      { return f.blobs }

func rowType() *sats.Type {
	return sats.Product(
		sats.Field{Name: "id", Type: sats.U64()},
		sats.Field{Name: "label", Type: sats.String()},
	)
}

func buildPage(t *testing.T, layout *page.RowTypeLayout, blobs page.BlobStore, ids ...uint64) *page.Page {
	t.Helper()
	p := page.New(layout.FixedRowSize)
	for _, id := range ids {
		_, err := p.Insert(sats.ProductValue(sats.U64Value(id), sats.StringValue("row")), layout, blobs)
		require.NoError(t, err)
	}
	return p
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	layout, err := page.ComputeLayout(rowType())
	require.NoError(t, err)

	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)

	p1 := buildPage(t, layout, blobs, 1, 2)
	src := &fakeSource{
		tables: []TableSource{&fakeTable{id: 1, pages: []*page.Page{p1}}},
		blobs:  blobs,
	}

	root := t.TempDir()
	dir, err := Create(root, src, Identity{DatabaseID: "db", InstanceID: "inst", ABIVersion: 1}, 100, "")
	require.NoError(t, err)

	pool := page.NewPool(layout.FixedRowSize, 4)
	restoredBlobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)

	result, err := Restore(dir, func(tableID uint32) (*page.Pool, error) { return pool, nil }, restoredBlobs)
	require.NoError(t, err)
	require.Equal(t, uint64(100), result.Manifest.TxOffset)
	require.Len(t, result.Tables, 1)
	require.Len(t, result.Tables[0].Pages, 1)

	restored := result.Tables[0].Pages[0]
	var gotIDs []uint64
	for _, slot := range restored.Slots() {
		v, err := restored.ReadValue(slot, layout, restoredBlobs)
		require.NoError(t, err)
		gotIDs = append(gotIDs, v.Elems[0].AsUint64())
	}
	require.ElementsMatch(t, []uint64{1, 2}, gotIDs)
}

func TestCreateDeduplicatesViaHardlink(t *testing.T) {
	layout, err := page.ComputeLayout(rowType())
	require.NoError(t, err)
	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)

	p1 := buildPage(t, layout, blobs, 1)
	src := &fakeSource{tables: []TableSource{&fakeTable{id: 1, pages: []*page.Page{p1}}}, blobs: blobs}

	root := t.TempDir()
	dir1, err := Create(root, src, Identity{DatabaseID: "db", InstanceID: "inst"}, 10, "")
	require.NoError(t, err)

	dir2, err := Create(root, src, Identity{DatabaseID: "db", InstanceID: "inst"}, 20, dir1)
	require.NoError(t, err)

	m2, err := Open(dir2)
	require.NoError(t, err)
	require.Len(t, m2.Tables[0].PageHashes, 1)

	hash := m2.Tables[0].PageHashes[0]
	p1path := filepath.Join(objectsDir(dir1), hex2(hash))
	p2path := filepath.Join(objectsDir(dir2), hex2(hash))
	sameFile(t, p1path, p2path)
}

func TestVerifyDetectsTamperedObject(t *testing.T) {
	layout, err := page.ComputeLayout(rowType())
	require.NoError(t, err)
	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)
	p1 := buildPage(t, layout, blobs, 1)
	src := &fakeSource{tables: []TableSource{&fakeTable{id: 1, pages: []*page.Page{p1}}}, blobs: blobs}

	root := t.TempDir()
	dir, err := Create(root, src, Identity{DatabaseID: "db"}, 5, "")
	require.NoError(t, err)
	require.NoError(t, Verify(dir))

	m, err := Open(dir)
	require.NoError(t, err)
	objPath := filepath.Join(objectsDir(dir), hex2(m.Tables[0].PageHashes[0]))
	corrupt(t, objPath)

	err = Verify(dir)
	require.Error(t, err)
	var hashErr *HashMismatchError
	require.ErrorAs(t, err, &hashErr)
}

func TestSyncIsIdempotentAndSkipsExisting(t *testing.T) {
	layout, err := page.ComputeLayout(rowType())
	require.NoError(t, err)
	blobs, err := blob.Open(t.TempDir())
	require.NoError(t, err)
	p1 := buildPage(t, layout, blobs, 1)
	src := &fakeSource{tables: []TableSource{&fakeTable{id: 1, pages: []*page.Page{p1}}}, blobs: blobs}

	srcRoot := t.TempDir()
	srcDir, err := Create(srcRoot, src, Identity{DatabaseID: "db"}, 7, "")
	require.NoError(t, err)

	dstRoot := t.TempDir()
	dstDir1, err := Sync(dstRoot, srcDir)
	require.NoError(t, err)
	require.NoError(t, Verify(dstDir1))

	dstDir2, err := Sync(dstRoot, srcDir)
	require.NoError(t, err)
	require.Equal(t, dstDir1, dstDir2)
}

func hex2(h [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0xf]
	}
	return string(out[:2]) + "/" + string(out)
}
