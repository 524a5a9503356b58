package datastore

import (
	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/deletetable"
	"github.com/cuemby/veltadb/pkg/page"
)

// txTable is one table's tx-local overlay: rows inserted within the tx
// (not yet visible to any other reader) plus indexes mirroring them, and
// the set of committed pointers this tx has marked for deletion (spec.md
// §4.6 "Committed + Tx state").
type txTable struct {
	insertPages   *Pages
	insertIndexes map[catalog.IndexID]*Index
	deleted       *deletetable.Table
}

// TxState is the mutable overlay a write tx accumulates; it is discarded
// wholesale on rollback and merged into CommittedState on commit.
type TxState struct {
	tables map[catalog.TableID]*txTable
}

func newTxState() *TxState {
	return &TxState{tables: make(map[catalog.TableID]*txTable)}
}

func (ts *TxState) table(ct *committedTable) *txTable {
	t, ok := ts.tables[ct.schema.ID]
	if ok {
		return t
	}
	indexes := make(map[catalog.IndexID]*Index, len(ct.indexes))
	for id, idx := range ct.indexes {
		indexes[id] = NewIndex(idx.Schema, ct.schema.RowType())
	}
	t = &txTable{
		insertPages:   NewPages(page.TxInsert, ct.pool, ct.layout, ct.pages.blobs),
		insertIndexes: indexes,
		deleted:       deletetable.New(),
	}
	ts.tables[ct.schema.ID] = t
	return t
}
