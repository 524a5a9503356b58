package page

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/veltadb/pkg/sats"
)

// Equal reports whether the rows at (p, slotP) and (q, slotQ) have
// identical BSATN encodings, without decoding either side: every
// non-var-len column's stored bytes already are its own BSATN encoding,
// and a var-len ref resolves to the exact same encoding it was built from
// on insert, so concatenating columns in declared order reproduces the
// row's canonical encoding byte-for-byte (spec.md §4.2, §4.7 "row
// equality without full deserialization").
func Equal(p *Page, slotP int, q *Page, slotQ int, layout *RowTypeLayout, blobs BlobStore) (bool, error) {
	a, err := p.RowBytes(slotP, layout, blobs)
	if err != nil {
		return false, err
	}
	b, err := q.RowBytes(slotQ, layout, blobs)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

// CompareRows orders the rows at (p, slotP) and (q, slotQ) under
// sats.Compare, decoding both (needed because comparison is value-aware,
// not a raw byte order — see sats.Compare).
func CompareRows(p *Page, slotP int, q *Page, slotQ int, layout *RowTypeLayout, blobs BlobStore) (int, error) {
	va, err := p.ReadValue(slotP, layout, blobs)
	if err != nil {
		return 0, err
	}
	vb, err := q.ReadValue(slotQ, layout, blobs)
	if err != nil {
		return 0, err
	}
	return sats.Compare(va, vb), nil
}

// Hash returns a content hash of the row at slot, agreeing with Equal:
// equal rows (by Equal) always hash equal.
func Hash(p *Page, slot int, layout *RowTypeLayout, blobs BlobStore) (uint64, error) {
	b, err := p.RowBytes(slot, layout, blobs)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(b), nil
}

// ContentHash returns a cached xxhash digest of the page's occupied rows
// in slot order, recomputing only when the page has mutated since the
// last call (insert/delete invalidate the cache). Snapshot page hashes do
// not use it; the snapshot repository hashes each page's bytes with blake3.
func (p *Page) ContentHash(layout *RowTypeLayout, blobs BlobStore) (uint64, error) {
	if p.cachedHashValid {
		return p.cachedHash, nil
	}
	h := xxhash.New()
	for _, slot := range p.Slots() {
		b, err := p.RowBytes(slot, layout, blobs)
		if err != nil {
			return 0, err
		}
		_, _ = h.Write(b)
	}
	sum := h.Sum64()
	p.cachedHash = sum
	p.cachedHashValid = true
	return sum, nil
}
