package snapshot

import "github.com/cuemby/veltadb/pkg/page"

// TableSource is the snapshot layer's view of one table's committed
// pages, satisfied by pkg/datastore's committed-state table without
// pkg/snapshot importing pkg/datastore (spec.md §4.8 "Creation").
type TableSource interface {
	TableID() uint32
	Pages() []*page.Page
}

// BlobSource is the snapshot layer's view of the blob store, matching
// pkg/blob.Store's method set exactly so *blob.Store implements it with
// no adapter (spec.md §4.4 "Enumeration of (hash, refcount, bytes) for
// snapshotting").
type BlobSource interface {
	Hashes() []page.BlobHash
	Get(hash page.BlobHash) ([]byte, bool)
	RefCount(hash page.BlobHash) int
}

// Source is everything Create needs to read out of a live datastore.
type Source interface {
	Tables() []TableSource
	Blobs() BlobSource
}

// BlobSink is the snapshot layer's view of a restore target for blobs,
// matching pkg/blob.Store's LoadAt.
type BlobSink interface {
	LoadAt(hash page.BlobHash, data []byte, refcount int) error
}

// RestoredTable is one table's pages recovered from a snapshot, handed
// back to the caller to install into a fresh committed-state table.
type RestoredTable struct {
	TableID uint32
	Pages   []*page.Page
}

// Result is the outcome of Restore: the manifest that was read plus the
// materialized per-table pages (spec.md §4.8 "Read / restore").
type Result struct {
	Manifest Manifest
	Tables   []RestoredTable
}
