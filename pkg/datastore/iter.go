package datastore

import (
	"bytes"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

// Row is one row handed back by an iterator: its location and decoded
// value.
type Row struct {
	Pointer page.RowPointer
	Value   sats.Value
}

// RowIter yields rows one at a time. Next returns false once exhausted;
// callers must check Err after the loop.
type RowIter struct {
	rows []Row
	pos  int
	err  error
}

func (it *RowIter) Next() bool {
	if it.err != nil || it.pos >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *RowIter) Row() Row  { return it.rows[it.pos-1] }
func (it *RowIter) Err() error { return it.err }

// scanTable implements the committed-then-tx-insert finite state machine
// (spec.md §4.6 "Scan iterator"): committed rows not hidden by this tx's
// delete marks, in page-then-slot order, followed by this tx's locally
// inserted rows in the same order.
func scanTable(ct *committedTable, overlay *txTable) (*RowIter, error) {
	var rows []Row
	for pageIdx, p := range ct.pages.Pages() {
		for _, slot := range p.Slots() {
			ptr := page.RowPointer{Subspace: page.Committed, PageIndex: uint32(pageIdx), Slot: uint32(slot)}
			if overlay != nil && overlay.deleted.Contains(ptr) {
				continue
			}
			v, err := p.ReadValue(slot, ct.layout, ct.pages.blobs)
			if err != nil {
				return nil, err
			}
			rows = append(rows, Row{Pointer: ptr, Value: v})
		}
	}
	if overlay != nil {
		for pageIdx, p := range overlay.insertPages.Pages() {
			for _, slot := range p.Slots() {
				ptr := page.RowPointer{Subspace: page.TxInsert, PageIndex: uint32(pageIdx), Slot: uint32(slot)}
				v, err := p.ReadValue(slot, ct.layout, overlay.insertPages.blobs)
				if err != nil {
					return nil, err
				}
				rows = append(rows, Row{Pointer: ptr, Value: v})
			}
		}
	}
	return &RowIter{rows: rows}, nil
}

// scanByColRange implements the column-range fallback (spec.md §4.6
// "Column-range fallback"): the full scan, filtered by projecting each
// candidate row onto cols and testing [lo, hi) containment.
func scanByColRange(ct *committedTable, overlay *txTable, cols []int, lo, hi sats.Value, hasLo, hasHi bool) (*RowIter, error) {
	full, err := scanTable(ct, overlay)
	if err != nil {
		return nil, err
	}
	fields := make([]sats.Field, len(cols))
	rowType := ct.schema.RowType()
	for i, c := range cols {
		fields[i] = rowType.Fields[c]
	}
	keyType := sats.Product(fields...)

	var loBytes, hiBytes []byte
	if hasLo {
		loBytes, err = sats.Encode(lo, keyType)
		if err != nil {
			return nil, err
		}
	}
	if hasHi {
		hiBytes, err = sats.Encode(hi, keyType)
		if err != nil {
			return nil, err
		}
	}

	var filtered []Row
	for _, r := range full.rows {
		elems := make([]sats.Value, len(cols))
		for i, c := range cols {
			elems[i] = r.Value.Elems[c]
		}
		key, err := sats.Encode(sats.ProductValue(elems...), keyType)
		if err != nil {
			return nil, err
		}
		if hasLo && bytes.Compare(key, loBytes) < 0 {
			continue
		}
		if hasHi && bytes.Compare(key, hiBytes) >= 0 {
			continue
		}
		filtered = append(filtered, r)
	}
	return &RowIter{rows: filtered}, nil
}

// scanByIndexRange implements the index range iterator (spec.md §4.6
// "Index range iterator") as two walks: the committed index, filtering
// its hits through the tx's delete marks, then the tx-local index. Each
// walk is in key order; the results are concatenated in that order, not
// merged into one key order.
func scanByIndexRange(ct *committedTable, overlay *txTable, idxID catalog.IndexID, loKey, hiKey []byte, hasLo, hasHi bool) (*RowIter, error) {
	committedIdx, ok := ct.indexes[idxID]
	if !ok {
		return nil, &ColumnOutOfRangeError{Table: ct.schema.Name, Index: int(idxID)}
	}

	var lo, hi []byte
	if hasLo {
		lo = loKey
	}
	if hasHi {
		hi = hiKey
	}

	var rows []Row
	committedIdx.AscendRange(lo, hi, func(key []byte, ptr page.RowPointer) bool {
		if overlay != nil && overlay.deleted.Contains(ptr) {
			return true
		}
		v, err := ct.pages.ReadValue(ptr)
		if err != nil {
			return true
		}
		rows = append(rows, Row{Pointer: ptr, Value: v})
		return true
	})

	if overlay != nil {
		if txIdx, ok := overlay.insertIndexes[idxID]; ok {
			txIdx.AscendRange(lo, hi, func(key []byte, ptr page.RowPointer) bool {
				v, err := overlay.insertPages.ReadValue(ptr)
				if err != nil {
					return true
				}
				rows = append(rows, Row{Pointer: ptr, Value: v})
				return true
			})
		}
	}
	return &RowIter{rows: rows}, nil
}
