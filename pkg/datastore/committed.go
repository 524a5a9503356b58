package datastore

import (
	"fmt"
	"sync"

	"github.com/cuemby/veltadb/pkg/catalog"
	"github.com/cuemby/veltadb/pkg/metrics"
	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/snapshot"
)

// committedTable is one table's durable state: schema, derived row
// layout, its page vector and pool, and its indexes and sequences
// (spec.md §4.6 "Committed + Tx state").
type committedTable struct {
	schema *catalog.TableSchema
	layout *page.RowTypeLayout
	pool   *page.Pool
	pages  *Pages

	indexes   map[catalog.IndexID]*Index
	sequences map[catalog.SequenceID]*Sequence
}

// TableID implements pkg/snapshot.TableSource.
func (t *committedTable) TableID() uint32 { return uint32(t.schema.ID) }

// Pages implements pkg/snapshot.TableSource.
func (t *committedTable) Pages() []*page.Page { return t.pages.Pages() }

// CommittedState holds every table's durable, visible-to-all-readers
// state (spec.md §5 "readers seeing only committed state").
type CommittedState struct {
	mu        sync.RWMutex
	poolCap   int
	tables    map[catalog.TableID]*committedTable
	byName    map[string]catalog.TableID
}

// NewCommittedState creates an empty committed state; poolCap bounds each
// table's page pool (spec.md §4.3).
func NewCommittedState(poolCap int) *CommittedState {
	return &CommittedState{
		poolCap: poolCap,
		tables:  make(map[catalog.TableID]*committedTable),
		byName:  make(map[string]catalog.TableID),
	}
}

// AddTable registers a freshly created (empty) table in committed state,
// deriving its row layout from the schema.
func (cs *CommittedState) AddTable(schema *catalog.TableSchema) error {
	layout, err := page.ComputeLayout(schema.RowType())
	if err != nil {
		return fmt.Errorf("datastore: compute layout for table %q: %w", schema.Name, err)
	}
	pool := page.NewPool(layout.FixedRowSize, cs.poolCap)
	t := &committedTable{
		schema:    schema,
		layout:    layout,
		pool:      pool,
		pages:     NewPages(page.Committed, pool, layout, nil),
		indexes:   make(map[catalog.IndexID]*Index),
		sequences: make(map[catalog.SequenceID]*Sequence),
	}
	for _, idxSchema := range schema.Indexes {
		t.indexes[idxSchema.ID] = NewIndex(idxSchema, schema.RowType())
	}
	for _, seqSchema := range schema.Sequences {
		t.sequences[seqSchema.ID] = NewSequence(seqSchema)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.byName[schema.Name]; exists {
		return &DuplicateTableError{Name: schema.Name}
	}
	cs.tables[schema.ID] = t
	cs.byName[schema.Name] = schema.ID
	return nil
}

// SetBlobs wires the blob store into every table's page vector once it is
// available; called once at Open after both are constructed.
func (cs *CommittedState) SetBlobs(blobs page.BlobStore) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, t := range cs.tables {
		t.pages.blobs = blobs
	}
}

func (cs *CommittedState) table(id catalog.TableID) (*committedTable, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	t, ok := cs.tables[id]
	if !ok {
		return nil, &TableNotFoundError{TableID: id}
	}
	return t, nil
}

func (cs *CommittedState) tableByName(name string) (*committedTable, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	id, ok := cs.byName[name]
	if !ok {
		return nil, &TableNotFoundError{Name: name}
	}
	return cs.tables[id], nil
}

// Tables implements pkg/snapshot.Source's table enumeration.
func (cs *CommittedState) Tables() []snapshot.TableSource {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]snapshot.TableSource, 0, len(cs.tables))
	for _, t := range cs.tables {
		out = append(out, t)
	}
	return out
}

// RowCounts reports live row counts per table, for pkg/metrics.StatsProvider.
func (cs *CommittedState) RowCounts() map[string]int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]int, len(cs.tables))
	for _, t := range cs.tables {
		out[t.schema.Name] = t.pages.RowCount()
	}
	return out
}

// PagePoolStats reports per-table page pool counters, for
// pkg/metrics.StatsProvider.
func (cs *CommittedState) PagePoolStats() []metrics.PoolStats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]metrics.PoolStats, 0, len(cs.tables))
	for _, t := range cs.tables {
		s := t.pool.Stats()
		out = append(out, metrics.PoolStats{
			TableID:     t.schema.Name,
			FreeCount:   s.FreeCount,
			ReuseCount:  s.ReuseCount,
			AllocCount:  s.AllocCount,
			ReturnCount: s.ReturnCount,
			DropCount:   s.DropCount,
		})
	}
	return out
}
