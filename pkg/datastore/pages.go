package datastore

import (
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

// Pages is the vector-of-pages owner for one table in one subspace
// (committed state or a tx's local insert table), plus a cheap index of
// pages known to have a free slot (spec.md §9 "Ownership of pages": "a
// page is owned by exactly one Pages... at any moment").
type Pages struct {
	subspace page.Subspace
	pool     *page.Pool
	layout   *page.RowTypeLayout
	blobs    page.BlobStore

	list []*page.Page
	free map[uint32]struct{}
}

// NewPages creates an empty page vector backed by pool, addressed under
// subspace.
func NewPages(subspace page.Subspace, pool *page.Pool, layout *page.RowTypeLayout, blobs page.BlobStore) *Pages {
	return &Pages{
		subspace: subspace,
		pool:     pool,
		layout:   layout,
		blobs:    blobs,
		free:     make(map[uint32]struct{}),
	}
}

// Pages returns the live underlying pages in index order, for snapshot
// creation and iteration.
func (ps *Pages) Pages() []*page.Page { return ps.list }

// Page returns the page at idx.
func (ps *Pages) Page(idx uint32) *page.Page { return ps.list[idx] }

// Len returns the number of page slots (including any empty, not yet
// reclaimed, non-tail pages).
func (ps *Pages) Len() int { return len(ps.list) }

// Insert writes v into an existing page with room, or a freshly acquired
// one, and returns the row's location.
func (ps *Pages) Insert(v sats.Value) (page.RowPointer, error) {
	for idx := range ps.free {
		p := ps.list[idx]
		slot, err := p.Insert(v, ps.layout, ps.blobs)
		if err != nil {
			delete(ps.free, idx)
			continue
		}
		if p.IsFull() {
			delete(ps.free, idx)
		}
		return page.RowPointer{Subspace: ps.subspace, PageIndex: idx, Slot: uint32(slot)}, nil
	}

	p := ps.pool.Get()
	idx := uint32(len(ps.list))
	ps.list = append(ps.list, p)
	slot, err := p.Insert(v, ps.layout, ps.blobs)
	if err != nil {
		return page.RowPointer{}, err
	}
	if !p.IsFull() {
		ps.free[idx] = struct{}{}
	}
	return page.RowPointer{Subspace: ps.subspace, PageIndex: idx, Slot: uint32(slot)}, nil
}

// Delete removes the row at ptr. If the page it lived in becomes empty
// and is the current tail, the page is returned to the pool and the
// vector shrinks; an empty page elsewhere in the vector is left in place
// so earlier RowPointers into the vector stay valid (spec.md §9
// "expressed as indices into arenas... rather than owning pointers").
func (ps *Pages) Delete(ptr page.RowPointer) error {
	p := ps.list[ptr.PageIndex]
	if err := p.Delete(int(ptr.Slot), ps.layout, ps.blobs); err != nil {
		return err
	}
	ps.free[ptr.PageIndex] = struct{}{}
	if p.Empty() && ptr.PageIndex == uint32(len(ps.list)-1) {
		ps.list = ps.list[:len(ps.list)-1]
		delete(ps.free, ptr.PageIndex)
		ps.pool.Put(p)
	}
	return nil
}

// ReadValue decodes the row at ptr into a sats.Value.
func (ps *Pages) ReadValue(ptr page.RowPointer) (sats.Value, error) {
	return ps.list[ptr.PageIndex].ReadValue(int(ptr.Slot), ps.layout, ps.blobs)
}

// RowCount sums live rows across every page in the vector.
func (ps *Pages) RowCount() int {
	n := 0
	for _, p := range ps.list {
		n += p.RowCount()
	}
	return n
}

// AppendPage adopts an already-built page (used when merging a tx's
// insert-table pages into committed state at commit, or when restoring
// pages from a snapshot). It returns the offset the page was appended at.
func (ps *Pages) AppendPage(p *page.Page) uint32 {
	idx := uint32(len(ps.list))
	ps.list = append(ps.list, p)
	if !p.IsFull() {
		ps.free[idx] = struct{}{}
	}
	return idx
}
