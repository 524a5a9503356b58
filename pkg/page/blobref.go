package page

// BlobHash is a blake3 content hash identifying an oversize value spilled to
// the blob store (spec.md §4.4, §4.8).
type BlobHash [32]byte

// BlobStore is the storage core's view of the external blob-store
// collaborator (spec.md §4.4, §6): content-addressed, reference-counted
// storage for var-len values too large to fit in a page's granule arena.
type BlobStore interface {
	Put(data []byte) (BlobHash, error)
	Get(hash BlobHash) ([]byte, bool)
	Inc(hash BlobHash)
	Dec(hash BlobHash)
}
