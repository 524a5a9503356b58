package datastore

import (
	"bytes"

	"github.com/google/btree"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

// btreeDegree matches the degree used by the legacy (non-generic)
// google/btree API for in-memory column ranges elsewhere in the
// ecosystem; there is no per-index tuning requirement here.
const btreeDegree = 32

// indexItem is one (projected key, row location) pair stored in an
// index's btree.BTree. Ties on key are broken by RowPointer so that a
// non-unique index can hold many rows under the same key without one
// overwriting another (spec.md §4.6 "Index range iterator").
type indexItem struct {
	key []byte
	ptr page.RowPointer
}

func (a *indexItem) Less(than btree.Item) bool {
	b := than.(*indexItem)
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.ptr.Less(b.ptr)
}

// Index is a BTree-backed ordered index over one or more columns of a
// table, shared in shape by committed tables and a tx's local overlay
// (spec.md §4.6 "Index range iterator").
type Index struct {
	Schema catalog.IndexSchema
	keyType *sats.Type
	tree    *btree.BTree
}

// NewIndex builds an empty index over the given columns of rowType, in
// schema-declared order.
func NewIndex(schema catalog.IndexSchema, rowType *sats.Type) *Index {
	fields := make([]sats.Field, len(schema.Columns))
	for i, col := range schema.Columns {
		fields[i] = rowType.Fields[col]
	}
	return &Index{
		Schema:  schema,
		keyType: sats.Product(fields...),
		tree:    btree.New(btreeDegree),
	}
}

// ProjectKey encodes the subset of v's columns this index covers into a
// canonical, comparable byte string. Product encoding is pure
// concatenation (spec.md §4.1), so the projected key sorts the same way
// the full row's columns would.
func (idx *Index) ProjectKey(v sats.Value) ([]byte, error) {
	elems := make([]sats.Value, len(idx.Schema.Columns))
	for i, col := range idx.Schema.Columns {
		elems[i] = v.Elems[col]
	}
	return sats.Encode(sats.ProductValue(elems...), idx.keyType)
}

// Insert adds (key, ptr) to the index. Non-unique indexes may hold many
// entries under the same key.
func (idx *Index) Insert(key []byte, ptr page.RowPointer) {
	idx.tree.ReplaceOrInsert(&indexItem{key: key, ptr: ptr})
}

// Delete removes the (key, ptr) pair, if present.
func (idx *Index) Delete(key []byte, ptr page.RowPointer) {
	idx.tree.Delete(&indexItem{key: key, ptr: ptr})
}

// Lookup returns every row pointer currently stored under key.
func (idx *Index) Lookup(key []byte) []page.RowPointer {
	var out []page.RowPointer
	idx.tree.AscendGreaterOrEqual(&indexItem{key: key}, func(i btree.Item) bool {
		item := i.(*indexItem)
		if !bytes.Equal(item.key, key) {
			return false
		}
		out = append(out, item.ptr)
		return true
	})
	return out
}

// AscendRange calls fn for every entry with lo <= key < hi, in key order,
// until fn returns false. A nil lo or hi means unbounded on that side.
func (idx *Index) AscendRange(lo, hi []byte, fn func(key []byte, ptr page.RowPointer) bool) {
	visit := func(i btree.Item) bool {
		item := i.(*indexItem)
		if hi != nil && bytes.Compare(item.key, hi) >= 0 {
			return false
		}
		return fn(item.key, item.ptr)
	}
	if lo == nil {
		idx.tree.Ascend(visit)
		return
	}
	idx.tree.AscendGreaterOrEqual(&indexItem{key: lo}, visit)
}

// Len reports the number of entries currently indexed.
func (idx *Index) Len() int { return idx.tree.Len() }
