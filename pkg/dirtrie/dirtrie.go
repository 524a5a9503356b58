// Package dirtrie implements the two-level, byte-partitioned,
// content-addressed object repository snapshots are built from
// (spec.md §4.9): for a 32-byte id, the leading byte (2 hex chars) names
// a subdirectory and the full id (64 hex chars) names the file within it. The
// trie never verifies hashes itself — that is the snapshot layer's job.
package dirtrie

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ID identifies an object by its content hash.
type ID [32]byte

// ErrNotFound is returned by ReadEntry and OpenEntry(FlagRead) when no
// object with the given id exists.
var ErrNotFound = errors.New("dirtrie: object not found")

// Trie is a directory rooted at a path, laid out as root/xx/yyyy....
type Trie struct {
	root string
}

// Open returns a Trie rooted at dir, creating dir if it does not exist.
func Open(dir string) (*Trie, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dirtrie: create root %s: %w", dir, err)
	}
	return &Trie{root: dir}, nil
}

// Root returns the trie's root directory.
func (t *Trie) Root() string {
	return t.root
}

func (t *Trie) path(id ID) string {
	h := hex.EncodeToString(id[:])
	return filepath.Join(t.root, h[:2], h)
}

func (t *Trie) subdir(id ID) string {
	h := hex.EncodeToString(id[:])
	return filepath.Join(t.root, h[:2])
}

// Flag selects the open mode for OpenEntry.
type Flag int

const (
	// FlagRead opens an existing entry for reading.
	FlagRead Flag = iota
	// FlagCreate creates a new entry, failing if one already exists
	// (objects are immutable and content-addressed: a collision on id
	// implies identical bytes, so callers generally skip writing rather
	// than hitting this error).
	FlagCreate
)

// OpenEntry opens the file backing id under the caller-selected flag. The
// parent subdirectory is created on demand for FlagCreate.
func (t *Trie) OpenEntry(id ID, flag Flag) (*os.File, error) {
	p := t.path(id)
	switch flag {
	case FlagCreate:
		if err := os.MkdirAll(t.subdir(id), 0o755); err != nil {
			return nil, fmt.Errorf("dirtrie: mkdir: %w", err)
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("dirtrie: create entry: %w", err)
		}
		return f, nil
	default:
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("dirtrie: open entry: %w", err)
		}
		return f, nil
	}
}

// Exists reports whether id has a backing file, without reading it.
func (t *Trie) Exists(id ID) bool {
	_, err := os.Stat(t.path(id))
	return err == nil
}

// ReadEntry reads the full contents of id.
func (t *Trie) ReadEntry(id ID) ([]byte, error) {
	f, err := t.OpenEntry(id, FlagRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("dirtrie: read entry: %w", err)
	}
	return data, nil
}

// WriteEntry writes data as a new entry for id, skipping the write if an
// entry already exists (content-addressed: existing bytes are assumed to
// match). Returns true if bytes were actually written.
func (t *Trie) WriteEntry(id ID, data []byte) (bool, error) {
	if t.Exists(id) {
		return false, nil
	}
	f, err := t.OpenEntry(id, FlagCreate)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return false, fmt.Errorf("dirtrie: write entry: %w", err)
	}
	return true, nil
}

// TryHardlinkFrom links id from other into t, atomically sharing the
// underlying bytes on disk. It returns false (no error) if other has no
// such object, and false if t already has one (nothing to do).
func (t *Trie) TryHardlinkFrom(other *Trie, id ID) (bool, error) {
	if !other.Exists(id) {
		return false, nil
	}
	if t.Exists(id) {
		return false, nil
	}
	if err := os.MkdirAll(t.subdir(id), 0o755); err != nil {
		return false, fmt.Errorf("dirtrie: mkdir: %w", err)
	}
	if err := os.Link(other.path(id), t.path(id)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("dirtrie: hardlink: %w", err)
	}
	return true, nil
}

// IDFromHex parses a 64-character hex string into an ID, as recovered
// from an object's file name while walking the trie.
func IDFromHex(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("dirtrie: invalid object id %q", s)
	}
	copy(id[:], raw)
	return id, nil
}

// Walk visits every object id present in the trie. Order is unspecified.
func (t *Trie) Walk(fn func(id ID) error) error {
	subdirs, err := os.ReadDir(t.root)
	if err != nil {
		return fmt.Errorf("dirtrie: walk: %w", err)
	}
	for _, sub := range subdirs {
		if !sub.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(t.root, sub.Name()))
		if err != nil {
			return fmt.Errorf("dirtrie: walk %s: %w", sub.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			id, err := IDFromHex(f.Name())
			if err != nil {
				continue
			}
			if err := fn(id); err != nil {
				return err
			}
		}
	}
	return nil
}
