// Package deletetable implements the delete table: a sparse, per-page set
// of slot indices marking committed rows a transaction intends to delete,
// consulted by the scan iterator to skip rows that are logically gone
// even though the underlying page slot is still materially present
// (spec.md §4.5, §4.6 "Committed \ Delete").
package deletetable

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/cuemby/veltadb/pkg/page"
)

// Table is a sparse vector of per-page bitsets, one bit per slot index,
// keyed by page index. Pages with no deletions never allocate a bitset.
type Table struct {
	pages map[uint32]*bitset.BitSet
}

// New creates an empty delete table.
func New() *Table {
	return &Table{pages: make(map[uint32]*bitset.BitSet)}
}

// Mark records ptr as deleted.
func (t *Table) Mark(ptr page.RowPointer) {
	bs, ok := t.pages[ptr.PageIndex]
	if !ok {
		bs = bitset.New(0)
		t.pages[ptr.PageIndex] = bs
	}
	bs.Set(uint(ptr.Slot))
}

// Unmark clears a deletion mark, e.g. when a tx re-inserts a row it had
// deleted.
func (t *Table) Unmark(ptr page.RowPointer) {
	bs, ok := t.pages[ptr.PageIndex]
	if !ok {
		return
	}
	bs.Clear(uint(ptr.Slot))
	if bs.None() {
		delete(t.pages, ptr.PageIndex)
	}
}

// Contains reports whether ptr is marked deleted.
func (t *Table) Contains(ptr page.RowPointer) bool {
	bs, ok := t.pages[ptr.PageIndex]
	if !ok {
		return false
	}
	return bs.Test(uint(ptr.Slot))
}

// ContainsPageSlot is Contains without constructing a RowPointer, for
// call sites already iterating (pageIndex, slot) pairs.
func (t *Table) ContainsPageSlot(pageIndex uint32, slot uint32) bool {
	bs, ok := t.pages[pageIndex]
	if !ok {
		return false
	}
	return bs.Test(uint(slot))
}

// Len returns the total number of marked deletions across all pages.
func (t *Table) Len() int {
	n := uint(0)
	for _, bs := range t.pages {
		n += bs.Count()
	}
	return int(n)
}

// ClearPage drops all deletion marks for a page, for when the page's
// slots no longer name the rows they were marked for.
func (t *Table) ClearPage(pageIndex uint32) {
	delete(t.pages, pageIndex)
}

// ForEach calls fn for every marked (pageIndex, slot) pair in ascending
// (pageIndex, slot) order, matching the scan iterator's own ordering
// (spec.md §4.6).
func (t *Table) ForEach(fn func(pageIndex uint32, slot uint32)) {
	pageIndexes := make([]uint32, 0, len(t.pages))
	for pageIndex := range t.pages {
		pageIndexes = append(pageIndexes, pageIndex)
	}
	sort.Slice(pageIndexes, func(i, j int) bool { return pageIndexes[i] < pageIndexes[j] })

	for _, pageIndex := range pageIndexes {
		bs := t.pages[pageIndex]
		for i, ok := bs.NextSet(0); ok; i, ok = bs.NextSet(i + 1) {
			fn(pageIndex, uint32(i))
		}
	}
}
