package datastore

import (
	"fmt"

	"github.com/cuemby/veltadb/pkg/catalog"
)

// TableNotFoundError reports a lookup by an id or name that the catalog
// does not know (spec.md §7 "Schema errors").
type TableNotFoundError struct {
	TableID catalog.TableID
	Name    string
}

func (e *TableNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("datastore: table %q not found", e.Name)
	}
	return fmt.Sprintf("datastore: table %d not found", e.TableID)
}

// DuplicateTableError reports create_table called with a name already in
// use.
type DuplicateTableError struct {
	Name string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("datastore: table %q already exists", e.Name)
}

// UniqueConstraintError carries enough context for a diagnostic (spec.md
// §4.6 "Unique constraint check").
type UniqueConstraintError struct {
	Constraint string
	Table      string
	Columns    []string
	Value      string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("datastore: unique constraint %q violated on %s(%v): value %s already present",
		e.Constraint, e.Table, e.Columns, e.Value)
}

// TxClosedError reports an operation issued against a tx that already
// committed or rolled back.
type TxClosedError struct{}

func (e *TxClosedError) Error() string { return "datastore: transaction is closed" }

// TxReadOnlyError reports a mutation attempted on a read tx.
type TxReadOnlyError struct{}

func (e *TxReadOnlyError) Error() string { return "datastore: transaction is read-only" }

// WriteTxInProgressError reports begin_write_tx failing fast because
// another write tx is already open (spec.md §7 "fails fast; does not
// queue internally").
type WriteTxInProgressError struct{}

func (e *WriteTxInProgressError) Error() string {
	return "datastore: a write transaction is already in progress"
}

// ColumnOutOfRangeError reports a projection referencing a column index
// the row type does not have.
type ColumnOutOfRangeError struct {
	Table string
	Index int
}

func (e *ColumnOutOfRangeError) Error() string {
	return fmt.Sprintf("datastore: column index %d out of range for table %q", e.Index, e.Table)
}

// MigrationUnsupportedError is returned by Open when a non-identity
// migration plan is supplied (spec.md §9 "treat non-identity migrations
// as unsupported unless otherwise specified").
type MigrationUnsupportedError struct{}

func (e *MigrationUnsupportedError) Error() string {
	return "datastore: non-identity migration plans are not supported"
}

// OffsetMismatchError reports the snapshot/log disagreement startup check
// (spec.md §4.7 "Startup").
type OffsetMismatchError struct {
	SnapshotOffset uint64
	LogOffset      uint64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("datastore: snapshot offset %d exceeds log's durable offset %d",
		e.SnapshotOffset, e.LogOffset)
}

// DegradedError is returned by write operations once the datastore has
// transitioned to read-only degraded mode after an unrecoverable
// durability failure (spec.md §7 "Durability errors").
type DegradedError struct{ Cause error }

func (e *DegradedError) Error() string {
	return fmt.Sprintf("datastore: read-only, durability failure: %v", e.Cause)
}

func (e *DegradedError) Unwrap() error { return e.Cause }
