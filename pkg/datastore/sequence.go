package datastore

import (
	"sync"

	"github.com/cuemby/veltadb/pkg/catalog"
)

// sequenceBatchSize is how many values a Sequence preallocates from the
// catalog's durable high-water mark at a time, trading a rare catalog
// write for many cheap in-memory Allocate calls (spec.md §4.6
// "Sequences": "a preallocation is reserved in batches to avoid frequent
// log writes").
const sequenceBatchSize = 100

// Sequence is an auto-incrementing allocator attached to one column.
// Values handed out by Allocate are never reused, including across a
// rolled-back tx: only the unused tail of the current in-memory batch is
// ever "returned", and only implicitly, by being handed out again later
// from the same batch (spec.md §4.6 "Rollback": "Sequence batches that
// had started an allocation are not globally reversed").
type Sequence struct {
	Schema catalog.SequenceSchema

	mu   sync.Mutex
	next uint64
	end  uint64 // exclusive upper bound of the current batch
}

// NewSequence creates a sequence with no batch yet reserved; the first
// Allocate call pulls one from store.
func NewSequence(schema catalog.SequenceSchema) *Sequence {
	return &Sequence{Schema: schema, next: schema.Start, end: schema.Start}
}

// Allocate returns the next value, reserving a fresh batch from store if
// the current one is exhausted.
func (s *Sequence) Allocate(store *catalog.Store, tableID catalog.TableID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= s.end {
		first, err := store.AllocateSequenceBatch(tableID, s.Schema.ID, s.Schema.Start, sequenceBatchSize)
		if err != nil {
			return 0, err
		}
		s.next = first
		s.end = first + sequenceBatchSize
	}
	v := s.next
	s.next++
	return v, nil
}
