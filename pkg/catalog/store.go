package catalog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTables     = []byte("tables")
	bucketTableNames = []byte("table_names")
	bucketMeta       = []byte("meta")
	bucketSequences  = []byte("sequences")
	bucketIdentity   = []byte("identity")
)

var keyNextTableID = []byte("next_table_id")
var keyIdentity = []byte("identity")

// Store is a bbolt-backed schema catalog: one row store's worth of
// TableSchema, sequence high-water marks, and database identity, kept
// separate from the row data itself (which lives in pkg/page pages under
// pkg/datastore).
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the catalog database rooted at dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTables, bucketTableNames, bucketMeta, bucketSequences, bucketIdentity} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the catalog database.
func (s *Store) Close() error {
	return s.db.Close()
}

func tableKey(id TableID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// CreateTable persists a new table schema, allocating its ID if schema.ID
// is zero, and rejecting a duplicate name (spec.md §7 "duplicate table").
func (s *Store) CreateTable(schema *TableSchema) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketTableNames)
		if names.Get([]byte(schema.Name)) != nil {
			return fmt.Errorf("catalog: duplicate table name %q", schema.Name)
		}

		if schema.ID == 0 {
			id, err := nextTableID(tx)
			if err != nil {
				return err
			}
			schema.ID = id
		}

		tables := tx.Bucket(bucketTables)
		if tables.Get(tableKey(schema.ID)) != nil {
			return fmt.Errorf("catalog: duplicate table id %d", schema.ID)
		}
		data, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("catalog: marshal table schema: %w", err)
		}
		if err := tables.Put(tableKey(schema.ID), data); err != nil {
			return err
		}
		return names.Put([]byte(schema.Name), tableKey(schema.ID))
	})
}

func nextTableID(tx *bolt.Tx) (TableID, error) {
	meta := tx.Bucket(bucketMeta)
	cur := meta.Get(keyNextTableID)
	var next uint32 = 1
	if cur != nil {
		next = binary.BigEndian.Uint32(cur) + 1
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], next)
	if err := meta.Put(keyNextTableID, buf[:]); err != nil {
		return 0, err
	}
	return TableID(next), nil
}

// GetTable loads a table schema by id.
func (s *Store) GetTable(id TableID) (*TableSchema, error) {
	var schema TableSchema
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTables).Get(tableKey(id))
		if data == nil {
			return fmt.Errorf("catalog: table %d not found", id)
		}
		return json.Unmarshal(data, &schema)
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// GetTableByName loads a table schema by name.
func (s *Store) GetTableByName(name string) (*TableSchema, error) {
	var schema TableSchema
	err := s.db.View(func(tx *bolt.Tx) error {
		idBytes := tx.Bucket(bucketTableNames).Get([]byte(name))
		if idBytes == nil {
			return fmt.Errorf("catalog: table %q not found", name)
		}
		data := tx.Bucket(bucketTables).Get(idBytes)
		if data == nil {
			return fmt.Errorf("catalog: table %q not found", name)
		}
		return json.Unmarshal(data, &schema)
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// ListTables returns every table schema, in no particular order.
func (s *Store) ListTables() ([]*TableSchema, error) {
	var out []*TableSchema
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTables).ForEach(func(k, v []byte) error {
			var schema TableSchema
			if err := json.Unmarshal(v, &schema); err != nil {
				return err
			}
			out = append(out, &schema)
			return nil
		})
	})
	return out, err
}

// UpdateTable overwrites an existing table's schema (e.g. after adding an
// index); it does not touch the name index.
func (s *Store) UpdateTable(schema *TableSchema) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tables := tx.Bucket(bucketTables)
		if tables.Get(tableKey(schema.ID)) == nil {
			return fmt.Errorf("catalog: table %d not found", schema.ID)
		}
		data, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("catalog: marshal table schema: %w", err)
		}
		return tables.Put(tableKey(schema.ID), data)
	})
}

// DeleteTable removes a table's schema and name index entry.
func (s *Store) DeleteTable(id TableID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tables := tx.Bucket(bucketTables)
		data := tables.Get(tableKey(id))
		if data == nil {
			return fmt.Errorf("catalog: table %d not found", id)
		}
		var schema TableSchema
		if err := json.Unmarshal(data, &schema); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTableNames).Delete([]byte(schema.Name)); err != nil {
			return err
		}
		return tables.Delete(tableKey(id))
	})
}

func sequenceKey(tableID TableID, seqID SequenceID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(tableID))
	binary.BigEndian.PutUint32(b[4:8], uint32(seqID))
	return b[:]
}

// AllocateSequenceBatch durably advances a sequence's high-water mark by
// batchSize and returns the first value of the newly allocated range, so
// the caller (the datastore's in-memory allocator) can hand out
// batchSize values without a catalog write per insert (spec.md §9
// "Sequence" preallocation batching).
func (s *Store) AllocateSequenceBatch(tableID TableID, seqID SequenceID, start, batchSize uint64) (uint64, error) {
	var allocated uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		key := sequenceKey(tableID, seqID)
		cur := b.Get(key)
		next := start
		if cur != nil {
			next = binary.BigEndian.Uint64(cur)
		}
		allocated = next
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next+batchSize)
		return b.Put(key, buf[:])
	})
	return allocated, err
}

// SaveIdentity stamps the database's identity, expected to be called once
// on first open.
func (s *Store) SaveIdentity(identity DatabaseIdentity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("catalog: marshal identity: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(keyIdentity, data)
	})
}

// LoadIdentity returns the database's stamped identity, or ok=false if
// none has been saved yet.
func (s *Store) LoadIdentity() (identity DatabaseIdentity, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(keyIdentity)
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &identity)
	})
	return identity, ok, err
}
