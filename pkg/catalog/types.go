// Package catalog persists table schemas, their indexes and sequences,
// and database identity in a bbolt database, adapted from the cluster
// store's bucket-per-entity-type pattern to the storage core's schema
// metadata (spec.md §3 "Data model", §6 "create_table").
package catalog

import "github.com/cuemby/veltadb/pkg/sats"

// TableID identifies a table for the lifetime of the database.
type TableID uint32

// ColID identifies a column within its table.
type ColID uint32

// IndexID identifies an index within its table.
type IndexID uint32

// SequenceID identifies a sequence within its table.
type SequenceID uint32

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	ID   ColID     `json:"id"`
	Name string    `json:"name"`
	Type *sats.Type `json:"type"`
}

// IndexSchema describes a (possibly composite, possibly unique) index
// over a table's columns.
type IndexSchema struct {
	ID      IndexID `json:"id"`
	Name    string  `json:"name"`
	Columns []ColID `json:"columns"`
	Unique  bool    `json:"unique"`
}

// SequenceSchema describes an auto-incrementing integer allocator
// attached to one column (GLOSSARY "Sequence").
type SequenceSchema struct {
	ID     SequenceID `json:"id"`
	Column ColID      `json:"column"`
	Start  uint64     `json:"start"`
}

// TableSchema is the persisted description of one table: its columns,
// indexes, and sequences. The row type used by pkg/page is derived from
// Columns at table-open time, not stored redundantly here.
type TableSchema struct {
	ID        TableID          `json:"id"`
	Name      string           `json:"name"`
	Columns   []ColumnSchema   `json:"columns"`
	Indexes   []IndexSchema    `json:"indexes"`
	Sequences []SequenceSchema `json:"sequences"`
}

// RowType derives the sats.Type a table's rows are encoded as: a product
// of its columns in declared order.
func (s *TableSchema) RowType() *sats.Type {
	fields := make([]sats.Field, len(s.Columns))
	for i, c := range s.Columns {
		fields[i] = sats.Field{Name: c.Name, Type: c.Type}
	}
	return sats.Product(fields...)
}

// ColumnIndex returns the position of a column id within Columns, or -1.
func (s *TableSchema) ColumnIndex(id ColID) int {
	for i, c := range s.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// DatabaseIdentity is the fixed identity a database is stamped with on
// first open, carried into every snapshot manifest (spec.md §4.8).
type DatabaseIdentity struct {
	DatabaseID string `json:"database_id"`
	InstanceID string `json:"instance_id"`
	ABIVersion uint32  `json:"abi_version"`
}
