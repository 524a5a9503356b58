package datastore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/veltadb/pkg/blob"
	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/commitlog"
	"github.com/cuemby/veltadb/pkg/config"
	"github.com/cuemby/veltadb/pkg/logging"
	"github.com/cuemby/veltadb/pkg/metrics"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
	"github.com/cuemby/veltadb/pkg/snapshot"
)

// MigrationPlan describes a schema migration to apply while opening a
// datastore. Only the identity migration (no-op) is supported (spec.md
// §9 "treat non-identity migrations as unsupported unless otherwise
// specified").
type MigrationPlan struct {
	Identity bool
}

func (m *MigrationPlan) isIdentity() bool { return m == nil || m.Identity }

// Datastore is the top-level, per-instance API surface (spec.md §6
// "Datastore API").
type Datastore struct {
	cfg       config.Config
	log       zerolog.Logger
	catalog   *catalog.Store
	blobs     *blob.Store
	clWriter  *commitlog.Writer
	committed *CommittedState
	identity  catalog.DatabaseIdentity

	writeMu     sync.Mutex
	writeOpen   bool
	degraded    atomic.Bool
	degradedErr atomic.Value // error

	snapshotMu  sync.Mutex
	lastSnapDir string
}

// Open opens or creates a datastore rooted at cfg.DataDir, replaying the
// commit log from the latest snapshot (if any) to the tail (spec.md §4.7
// "Startup").
func Open(cfg config.Config, migration *MigrationPlan) (*Datastore, error) {
	if !migration.isIdentity() {
		return nil, &MigrationUnsupportedError{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(cfg.BlobDir())
	if err != nil {
		cat.Close()
		return nil, err
	}
	writer, err := commitlog.OpenWriter(cfg.CommitLogDir(), cfg.MaxSegmentBytes, cfg.Durability.Level())
	if err != nil {
		cat.Close()
		return nil, err
	}

	ds := &Datastore{
		cfg:       cfg,
		log:       logging.WithComponent("datastore"),
		catalog:   cat,
		blobs:     blobs,
		clWriter:  writer,
		committed: NewCommittedState(cfg.PagePoolCapacity),
	}

	schemas, err := cat.ListTables()
	if err != nil {
		return nil, err
	}
	for _, schema := range schemas {
		if err := ds.committed.AddTable(schema); err != nil {
			return nil, err
		}
	}
	ds.committed.SetBlobs(blobs)

	identity, ok, err := cat.LoadIdentity()
	if err != nil {
		return nil, err
	}
	if !ok {
		identity = catalog.DatabaseIdentity{
			DatabaseID: uuid.NewString(),
			InstanceID: uuid.NewString(),
			ABIVersion: 1,
		}
		if err := cat.SaveIdentity(identity); err != nil {
			return nil, err
		}
	}
	ds.identity = identity

	snapDir, manifest, err := snapshot.Latest(cfg.SnapshotDir())
	snapshotOffset := uint64(0)
	if err == nil {
		snapshotOffset = manifest.TxOffset
		ds.lastSnapDir = snapDir
		if err := ds.restoreFromSnapshot(snapDir, manifest); err != nil {
			return nil, err
		}
	} else if err != snapshot.ErrNoValidSnapshot {
		return nil, err
	}

	durable := writer.DurableOffset()
	if snapshotOffset > durable {
		return nil, &OffsetMismatchError{SnapshotOffset: snapshotOffset, LogOffset: durable}
	}

	// A snapshot is stamped with the writer's durable offset, the first
	// offset it does not reflect, so replay starts at that offset itself.
	fromOffset := snapshotOffset
	if err := ds.replay(fromOffset); err != nil {
		return nil, err
	}

	ds.log.Info().Uint64("durable_offset", durable).Msg("datastore opened")
	return ds, nil
}

func (ds *Datastore) restoreFromSnapshot(dir string, manifest snapshot.Manifest) error {
	result, err := snapshot.Restore(dir, func(tableID uint32) (*page.Pool, error) {
		ct, err := ds.committed.table(catalog.TableID(tableID))
		if err != nil {
			return nil, err
		}
		return ct.pool, nil
	}, ds.blobs)
	if err != nil {
		return err
	}
	for _, rt := range result.Tables {
		ct, err := ds.committed.table(catalog.TableID(rt.TableID))
		if err != nil {
			return err
		}
		for _, p := range rt.Pages {
			ct.pages.AppendPage(p)
		}
	}
	return nil
}

// replay re-applies every commit from fromOffset to the log's tail
// against committed state directly (no delete-table overlay is needed;
// these mutations are already durable).
func (ds *Datastore) replay(fromOffset uint64) error {
	reader := commitlog.OpenReader(ds.cfg.CommitLogDir())
	it, err := reader.TransactionsFrom(fromOffset)
	if err != nil {
		return err
	}
	for {
		commit, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		records, err := decodeCommitPayload(commit.Payload)
		if err != nil {
			return err
		}
		if err := ds.applyRecords(records); err != nil {
			return err
		}
	}
}

func (ds *Datastore) applyRecords(records []commitRecord) error {
	for _, r := range records {
		ct, err := ds.committed.table(catalog.TableID(r.TableID))
		if err != nil {
			return err
		}
		switch r.Kind {
		case mutationInsert:
			v, err := sats.Decode(r.Row, ct.schema.RowType())
			if err != nil {
				return err
			}
			ptr, err := ct.pages.Insert(v)
			if err != nil {
				return err
			}
			for _, idx := range ct.indexes {
				key, err := idx.ProjectKey(v)
				if err != nil {
					return err
				}
				idx.Insert(key, ptr)
			}
		case mutationDelete:
			var ptr page.RowPointer
			if err := decodeRowPointer(r.Row, &ptr); err != nil {
				return err
			}
			v, err := ct.pages.ReadValue(ptr)
			if err != nil {
				return err
			}
			for _, idx := range ct.indexes {
				key, err := idx.ProjectKey(v)
				if err != nil {
					return err
				}
				idx.Delete(key, ptr)
			}
			if err := ct.pages.Delete(ptr); err != nil {
				return err
			}
		}
	}
	return nil
}

// BeginReadTx opens a read-only transaction reading directly through
// committed state (spec.md §5: no inter-tx MVCC between readers). Reads
// remain available in degraded mode; only writes are refused.
func (ds *Datastore) BeginReadTx() (*Tx, error) {
	return &Tx{ds: ds, readOnly: true}, nil
}

// BeginWriteTx opens the single write transaction, failing fast if one is
// already open (spec.md §7 "fails fast; does not queue internally").
func (ds *Datastore) BeginWriteTx() (*Tx, error) {
	if ds.degraded.Load() {
		return nil, &DegradedError{Cause: ds.degradedErrValue()}
	}
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()
	if ds.writeOpen {
		return nil, &WriteTxInProgressError{}
	}
	ds.writeOpen = true
	return &Tx{ds: ds, state: newTxState()}, nil
}

func (ds *Datastore) degradedErrValue() error {
	if v := ds.degradedErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// CommitOffset identifies a durably committed transaction by the offset
// of its first logical record in the commit log.
type CommitOffset uint64

// CommitTx merges tx's overlay into committed state and appends the
// resulting commit record to the commit log (spec.md §4.6 "Commit").
func (ds *Datastore) CommitTx(tx *Tx) (CommitOffset, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	if tx.readOnly {
		tx.closed = true
		return 0, nil
	}
	defer func() {
		tx.closed = true
		ds.writeMu.Lock()
		ds.writeOpen = false
		ds.writeMu.Unlock()
	}()

	var records []commitRecord
	type deletion struct {
		tableID catalog.TableID
		ptr     page.RowPointer
		row     sats.Value
	}
	var deletions []deletion

	for tableID, overlay := range tx.state.tables {
		ct, err := ds.committed.table(tableID)
		if err != nil {
			return 0, err
		}
		overlay.deleted.ForEach(func(pageIdx, slot uint32) {
			ptr := page.RowPointer{Subspace: page.Committed, PageIndex: pageIdx, Slot: slot}
			v, rerr := ct.pages.ReadValue(ptr)
			if rerr != nil {
				return
			}
			deletions = append(deletions, deletion{tableID: tableID, ptr: ptr, row: v})
		})
	}

	for _, d := range deletions {
		rowBytes := encodeRowPointer(d.ptr)
		records = append(records, commitRecord{Kind: mutationDelete, TableID: uint32(d.tableID), Row: rowBytes})
	}

	timer := metrics.NewTimer()
	for tableID, overlay := range tx.state.tables {
		ct, err := ds.committed.table(tableID)
		if err != nil {
			return 0, err
		}
		for _, p := range overlay.insertPages.Pages() {
			for _, slot := range p.Slots() {
				v, err := p.ReadValue(slot, ct.layout, overlay.insertPages.blobs)
				if err != nil {
					return 0, err
				}
				rowBytes, err := sats.Encode(v, ct.schema.RowType())
				if err != nil {
					return 0, err
				}
				records = append(records, commitRecord{Kind: mutationInsert, TableID: uint32(tableID), Row: rowBytes})
			}
		}
	}

	payload, err := encodeCommitPayload(records)
	if err != nil {
		return 0, err
	}
	offset, err := ds.clWriter.Append(payload)
	if err != nil {
		ds.degraded.Store(true)
		ds.degradedErr.Store(err)
		ds.log.Error().Err(err).Msg("commit log append failed, datastore is now read-only")
		return 0, &DegradedError{Cause: err}
	}
	timer.ObserveDuration(metrics.TxDuration.WithLabelValues("write"))
	metrics.TxCommittedTotal.Inc()

	for _, d := range deletions {
		ct, _ := ds.committed.table(d.tableID)
		for _, idx := range ct.indexes {
			key, err := idx.ProjectKey(d.row)
			if err != nil {
				return 0, err
			}
			idx.Delete(key, d.ptr)
		}
		if err := ct.pages.Delete(d.ptr); err != nil {
			return 0, err
		}
	}

	for tableID, overlay := range tx.state.tables {
		ct, _ := ds.committed.table(tableID)
		offsetBase := uint32(ct.pages.Len())
		for _, p := range overlay.insertPages.Pages() {
			ct.pages.AppendPage(p)
		}
		for indexID, txIdx := range overlay.insertIndexes {
			committedIdx := ct.indexes[indexID]
			txIdx.AscendRange(nil, nil, func(key []byte, ptr page.RowPointer) bool {
				newPtr := page.RowPointer{Subspace: page.Committed, PageIndex: offsetBase + ptr.PageIndex, Slot: ptr.Slot}
				committedIdx.Insert(key, newPtr)
				return true
			})
		}
	}

	return CommitOffset(offset), nil
}

// RollbackTx drops tx's overlay; committed state is untouched (spec.md
// §4.6 "Rollback").
func (ds *Datastore) RollbackTx(tx *Tx) {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.readOnly {
		return
	}
	ds.writeMu.Lock()
	ds.writeOpen = false
	ds.writeMu.Unlock()
	metrics.TxRolledBackTotal.WithLabelValues("rollback").Inc()
}

// CreateTable persists a new table schema and registers it in committed
// state.
func (ds *Datastore) CreateTable(schema *catalog.TableSchema) (catalog.TableID, error) {
	if err := ds.catalog.CreateTable(schema); err != nil {
		return 0, err
	}
	if err := ds.committed.AddTable(schema); err != nil {
		return 0, err
	}
	ds.committed.SetBlobs(ds.blobs)
	return schema.ID, nil
}

// TableByName resolves a table's schema by name, for callers (migrations,
// the CLI) that don't track table IDs themselves.
func (ds *Datastore) TableByName(name string) (*catalog.TableSchema, error) {
	ct, err := ds.committed.tableByName(name)
	if err != nil {
		return nil, err
	}
	return ct.schema, nil
}

// AllocateSequence hands out the next value for a table's sequence.
func (ds *Datastore) AllocateSequence(tableID catalog.TableID, seqID catalog.SequenceID) (uint64, error) {
	ct, err := ds.committed.table(tableID)
	if err != nil {
		return 0, err
	}
	seq, ok := ct.sequences[seqID]
	if !ok {
		return 0, fmt.Errorf("datastore: table %d has no sequence %d", tableID, seqID)
	}
	return seq.Allocate(ds.catalog, tableID)
}

// Identity returns the identity this datastore was stamped with on first
// open (spec.md §4.8 "fixed identity... carried into every snapshot
// manifest").
func (ds *Datastore) Identity() catalog.DatabaseIdentity { return ds.identity }

// DurableOffset returns the commit log's current durable offset.
func (ds *Datastore) DurableOffset() uint64 { return ds.clWriter.DurableOffset() }

// SnapshotNow creates a snapshot at the datastore's current durable
// offset using its own persisted identity, for callers (e.g. the CLI)
// that don't track these themselves.
func (ds *Datastore) SnapshotNow() (string, error) {
	return ds.Snapshot(ds.identity, ds.DurableOffset())
}

// Snapshot creates a new snapshot reflecting the current committed state
// (spec.md §4.8 "Creation").
func (ds *Datastore) Snapshot(identity catalog.DatabaseIdentity, txOffset uint64) (string, error) {
	ds.snapshotMu.Lock()
	defer ds.snapshotMu.Unlock()

	timer := metrics.NewTimer()
	dir, err := snapshot.Create(ds.cfg.SnapshotDir(), ds, snapshot.Identity{
		DatabaseID: identity.DatabaseID,
		InstanceID: identity.InstanceID,
		ABIVersion: identity.ABIVersion,
	}, txOffset, ds.lastSnapDir)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	ds.lastSnapDir = dir
	timer.ObserveDuration(metrics.SnapshotCreateDuration)
	metrics.SnapshotsTotal.WithLabelValues("success").Inc()
	return dir, nil
}

// Tables implements pkg/snapshot.Source.
func (ds *Datastore) Tables() []snapshot.TableSource { return ds.committed.Tables() }

// Blobs implements pkg/snapshot.Source.
func (ds *Datastore) Blobs() snapshot.BlobSource { return ds.blobs }

// PagePoolStats implements pkg/metrics.StatsProvider.
func (ds *Datastore) PagePoolStats() []metrics.PoolStats { return ds.committed.PagePoolStats() }

// RowCounts implements pkg/metrics.StatsProvider.
func (ds *Datastore) RowCounts() map[string]int { return ds.committed.RowCounts() }

// Degraded implements pkg/metrics.StatsProvider.
func (ds *Datastore) Degraded() bool { return ds.degraded.Load() }

// Close releases the datastore's file handles.
func (ds *Datastore) Close() error {
	if err := ds.clWriter.Close(); err != nil {
		return err
	}
	return ds.catalog.Close()
}
