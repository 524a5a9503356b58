package datastore

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

// Tx is a single read or write transaction. A read tx has no overlay and
// simply reads through to committed state (spec.md §5: "readers seeing
// only committed state"). A write tx accumulates a TxState overlay that
// is merged into committed state on Commit, or dropped on Rollback.
type Tx struct {
	ds       *Datastore
	readOnly bool
	closed   bool
	state    *TxState
}

func (tx *Tx) checkOpen() error {
	if tx.closed {
		return &TxClosedError{}
	}
	return nil
}

// Insert applies §4.6's insert semantics through the table's unique
// indexes: a committed row under the same unique key that this tx has
// deleted is revived (its mark cleared, its pointer returned) when its
// bytes are identical; any live committed or tx-local row under that key
// is a UniqueConstraintError. Otherwise the row is appended to the tx's
// local insert table. Committed rows are found only through unique
// indexes: on a table without one, a row identical to a committed row is
// appended as a second copy.
func (tx *Tx) Insert(tableID catalog.TableID, v sats.Value) (page.RowPointer, error) {
	if err := tx.checkOpen(); err != nil {
		return page.RowPointer{}, err
	}
	if tx.readOnly {
		return page.RowPointer{}, &TxReadOnlyError{}
	}
	ct, err := tx.ds.committed.table(tableID)
	if err != nil {
		return page.RowPointer{}, err
	}
	overlay := tx.state.table(ct)
	rowBytes, err := sats.Encode(v, ct.schema.RowType())
	if err != nil {
		return page.RowPointer{}, err
	}

	for _, idx := range ct.indexes {
		if !idx.Schema.Unique {
			continue
		}
		key, err := idx.ProjectKey(v)
		if err != nil {
			return page.RowPointer{}, err
		}
		for _, ptr := range idx.Lookup(key) {
			if overlay.deleted.Contains(ptr) {
				existing, err := ct.pages.ReadValue(ptr)
				if err != nil {
					return page.RowPointer{}, err
				}
				existingBytes, err := sats.Encode(existing, ct.schema.RowType())
				if err != nil {
					return page.RowPointer{}, err
				}
				if bytes.Equal(existingBytes, rowBytes) {
					overlay.deleted.Unmark(ptr)
					return ptr, nil
				}
				continue
			}
			return page.RowPointer{}, uniqueViolation(idx, ct, v)
		}
		if txIdx, ok := overlay.insertIndexes[idx.Schema.ID]; ok {
			if len(txIdx.Lookup(key)) > 0 {
				return page.RowPointer{}, uniqueViolation(idx, ct, v)
			}
		}
	}

	ptr, err := overlay.insertPages.Insert(v)
	if err != nil {
		return page.RowPointer{}, err
	}
	for _, idx := range ct.indexes {
		key, err := idx.ProjectKey(v)
		if err != nil {
			return page.RowPointer{}, err
		}
		overlay.insertIndexes[idx.Schema.ID].Insert(key, ptr)
	}
	return ptr, nil
}

func uniqueViolation(idx *Index, ct *committedTable, v sats.Value) error {
	names := make([]string, len(idx.Schema.Columns))
	values := make([]string, len(idx.Schema.Columns))
	for i, col := range idx.Schema.Columns {
		names[i] = ct.schema.Columns[col].Name
		values[i] = describeValue(v.Elems[col])
	}
	return &UniqueConstraintError{
		Constraint: idx.Schema.Name,
		Table:      ct.schema.Name,
		Columns:    names,
		Value:      strings.Join(values, ","),
	}
}

// describeValue renders a sats.Value for a constraint-violation
// diagnostic; it does not need to be a faithful re-serialization.
func describeValue(v sats.Value) string {
	switch v.Kind {
	case sats.KindString:
		return v.Str
	case sats.KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case sats.KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case sats.KindF32:
		return fmt.Sprintf("%v", v.F32)
	case sats.KindF64:
		return fmt.Sprintf("%v", v.F64)
	default:
		return fmt.Sprintf("%d", v.AsUint64())
	}
}

// Delete applies §4.6's delete semantics: if ptr names a row this tx
// itself inserted, it is removed from the insert table outright;
// otherwise its committed pointer is marked in delete_tables, leaving
// committed indexes untouched.
func (tx *Tx) Delete(tableID catalog.TableID, ptr page.RowPointer) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	if tx.readOnly {
		return false, &TxReadOnlyError{}
	}
	ct, err := tx.ds.committed.table(tableID)
	if err != nil {
		return false, err
	}
	overlay := tx.state.table(ct)

	if ptr.Subspace == page.TxInsert {
		v, err := overlay.insertPages.ReadValue(ptr)
		if err != nil {
			return false, err
		}
		for _, idx := range ct.indexes {
			key, err := idx.ProjectKey(v)
			if err != nil {
				return false, err
			}
			overlay.insertIndexes[idx.Schema.ID].Delete(key, ptr)
		}
		if err := overlay.insertPages.Delete(ptr); err != nil {
			return false, err
		}
		return true, nil
	}

	if overlay.deleted.Contains(ptr) {
		return false, nil
	}
	overlay.deleted.Mark(ptr)
	return true, nil
}

// Iter visits every row currently visible to this tx (spec.md §4.6 "Scan
// iterator").
func (tx *Tx) Iter(tableID catalog.TableID) (*RowIter, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	ct, err := tx.ds.committed.table(tableID)
	if err != nil {
		return nil, err
	}
	var overlay *txTable
	if tx.state != nil {
		overlay = tx.state.table(ct)
	}
	return scanTable(ct, overlay)
}

// IterByColRange implements iter_by_col_range: uses an index over cols if
// one exists, otherwise degrades to the scan-plus-filter fallback.
func (tx *Tx) IterByColRange(tableID catalog.TableID, cols []catalog.ColID, lo, hi sats.Value, hasLo, hasHi bool) (*RowIter, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	ct, err := tx.ds.committed.table(tableID)
	if err != nil {
		return nil, err
	}
	var overlay *txTable
	if tx.state != nil {
		overlay = tx.state.table(ct)
	}

	if idx := matchingIndex(ct, cols); idx != nil {
		var loKey, hiKey []byte
		if hasLo {
			loKey, err = idx.ProjectKey(lo)
			if err != nil {
				return nil, err
			}
		}
		if hasHi {
			hiKey, err = idx.ProjectKey(hi)
			if err != nil {
				return nil, err
			}
		}
		return scanByIndexRange(ct, overlay, idx.Schema.ID, loKey, hiKey, hasLo, hasHi)
	}

	colIdx := make([]int, len(cols))
	for i, c := range cols {
		colIdx[i] = int(c)
	}
	return scanByColRange(ct, overlay, colIdx, lo, hi, hasLo, hasHi)
}

// IterByColEq is iter_by_col_range with lo == hi == value.
func (tx *Tx) IterByColEq(tableID catalog.TableID, cols []catalog.ColID, value sats.Value) (*RowIter, error) {
	return tx.IterByColRange(tableID, cols, value, value, true, true)
}

func matchingIndex(ct *committedTable, cols []catalog.ColID) *Index {
	for _, idx := range ct.indexes {
		if len(idx.Schema.Columns) != len(cols) {
			continue
		}
		match := true
		for i, c := range idx.Schema.Columns {
			if c != cols[i] {
				match = false
				break
			}
		}
		if match {
			return idx
		}
	}
	return nil
}
