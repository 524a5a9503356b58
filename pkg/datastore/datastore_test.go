package datastore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/config"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

func xTableSchema() *catalog.TableSchema {
	return &catalog.TableSchema{
		Name: "x",
		Columns: []catalog.ColumnSchema{
			{ID: 0, Name: "x", Type: sats.U64()},
		},
	}
}

func openTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.PagePoolCapacity = 4
	ds, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func rowX(x uint64) sats.Value {
	return sats.ProductValue(sats.U64Value(x))
}

// TestSingleTableInsertCommitRead is scenario S1 from spec.md §8: insert
// one row, commit, reopen, read it back.
func TestSingleTableInsertCommitRead(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.PagePoolCapacity = 4

	ds, err := Open(cfg, nil)
	require.NoError(t, err)

	tableID, err := ds.CreateTable(xTableSchema())
	require.NoError(t, err)

	tx, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = tx.Insert(tableID, rowX(7))
	require.NoError(t, err)
	_, err = ds.CommitTx(tx)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	ds2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer ds2.Close()

	rtx, err := ds2.BeginReadTx()
	require.NoError(t, err)
	it, err := rtx.Iter(tableID)
	require.NoError(t, err)

	var got []uint64
	for it.Next() {
		got = append(got, it.Row().Value.Elems[0].AsUint64())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []uint64{7}, got)
}

// TestTxOverlayVisibility is scenario S2 from spec.md §8: a concurrent
// reader does not see an in-flight write tx's overlay; the writer itself
// does, and the change becomes visible to new reads after commit.
func TestTxOverlayVisibility(t *testing.T) {
	ds := openTestDatastore(t)
	tableID, err := ds.CreateTable(xTableSchema())
	require.NoError(t, err)

	setup, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = setup.Insert(tableID, rowX(1))
	require.NoError(t, err)
	_, err = setup.Insert(tableID, rowX(2))
	require.NoError(t, err)
	_, err = ds.CommitTx(setup)
	require.NoError(t, err)
	p1 := committedPtr(t, ds, tableID, 1)

	writer, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = writer.Delete(tableID, p1)
	require.NoError(t, err)
	_, err = writer.Insert(tableID, rowX(3))
	require.NoError(t, err)

	concurrentReader, err := ds.BeginReadTx()
	require.NoError(t, err)
	concurrentIt, err := concurrentReader.Iter(tableID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{1, 2}, collectXs(t, concurrentIt))

	writerIt, err := writer.Iter(tableID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{2, 3}, collectXs(t, writerIt))

	_, err = ds.CommitTx(writer)
	require.NoError(t, err)

	afterReader, err := ds.BeginReadTx()
	require.NoError(t, err)
	afterIt, err := afterReader.Iter(tableID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{2, 3}, collectXs(t, afterIt))
}

func collectXs(t *testing.T, it *RowIter) []uint64 {
	t.Helper()
	var out []uint64
	for it.Next() {
		out = append(out, it.Row().Value.Elems[0].AsUint64())
	}
	require.NoError(t, it.Err())
	return out
}

// committedPtr returns the committed-state pointer of the row whose x
// column is x. The pointer Insert returns names the inserting tx's own
// insert table; once that tx commits, the row lives at a committed pointer.
func committedPtr(t *testing.T, ds *Datastore, tableID catalog.TableID, x uint64) page.RowPointer {
	t.Helper()
	rtx, err := ds.BeginReadTx()
	require.NoError(t, err)
	it, err := rtx.Iter(tableID)
	require.NoError(t, err)
	for it.Next() {
		if it.Row().Value.Elems[0].AsUint64() == x {
			return it.Row().Pointer
		}
	}
	require.NoError(t, it.Err())
	t.Fatalf("no committed row with x=%d", x)
	return page.RowPointer{}
}

func TestUniqueConstraintViolationLeavesNoPartialEffect(t *testing.T) {
	ds := openTestDatastore(t)
	schema := xTableSchema()
	schema.Indexes = []catalog.IndexSchema{
		{ID: 1, Name: "x_unique", Columns: []catalog.ColID{0}, Unique: true},
	}
	tableID, err := ds.CreateTable(schema)
	require.NoError(t, err)

	setup, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = setup.Insert(tableID, rowX(5))
	require.NoError(t, err)
	_, err = ds.CommitTx(setup)
	require.NoError(t, err)

	tx, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = tx.Insert(tableID, rowX(5))
	var constraintErr *UniqueConstraintError
	require.ErrorAs(t, err, &constraintErr)

	it, err := tx.Iter(tableID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{5}, collectXs(t, it))
	ds.RollbackTx(tx)
}

func TestSecondWriteTxFailsFast(t *testing.T) {
	ds := openTestDatastore(t)
	tx1, err := ds.BeginWriteTx()
	require.NoError(t, err)
	defer ds.RollbackTx(tx1)

	_, err = ds.BeginWriteTx()
	var inProgress *WriteTxInProgressError
	require.ErrorAs(t, err, &inProgress)
}

func TestIterByColEqUsesIndex(t *testing.T) {
	ds := openTestDatastore(t)
	schema := xTableSchema()
	schema.Indexes = []catalog.IndexSchema{
		{ID: 1, Name: "x_idx", Columns: []catalog.ColID{0}},
	}
	tableID, err := ds.CreateTable(schema)
	require.NoError(t, err)

	tx, err := ds.BeginWriteTx()
	require.NoError(t, err)
	for _, x := range []uint64{1, 2, 2, 3} {
		_, err := tx.Insert(tableID, rowX(x))
		require.NoError(t, err)
	}
	_, err = ds.CommitTx(tx)
	require.NoError(t, err)

	rtx, err := ds.BeginReadTx()
	require.NoError(t, err)
	it, err := rtx.IterByColEq(tableID, []catalog.ColID{0}, sats.U64Value(2))
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{2, 2}, collectXs(t, it))
}

func TestDeleteThenReinsertSameRowRevives(t *testing.T) {
	ds := openTestDatastore(t)
	schema := xTableSchema()
	schema.Indexes = []catalog.IndexSchema{
		{ID: 1, Name: "x_unique", Columns: []catalog.ColID{0}, Unique: true},
	}
	tableID, err := ds.CreateTable(schema)
	require.NoError(t, err)

	setup, err := ds.BeginWriteTx()
	require.NoError(t, err)
	_, err = setup.Insert(tableID, rowX(9))
	require.NoError(t, err)
	_, err = ds.CommitTx(setup)
	require.NoError(t, err)
	ptr := committedPtr(t, ds, tableID, 9)

	tx, err := ds.BeginWriteTx()
	require.NoError(t, err)
	ok, err := tx.Delete(tableID, ptr)
	require.NoError(t, err)
	require.True(t, ok)
	revived, err := tx.Insert(tableID, rowX(9))
	require.NoError(t, err)
	require.Equal(t, ptr, revived)
	_, err = ds.CommitTx(tx)
	require.NoError(t, err)

	rtx, err := ds.BeginReadTx()
	require.NoError(t, err)
	it, err := rtx.Iter(tableID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{9}, collectXs(t, it))
}
