package snapshot

import "fmt"

// HashMismatchError reports that an object's on-disk bytes do not match
// the hash its filename (or the manifest's header) claims (spec.md §7
// "Snapshot errors: ... hash-mismatched object").
type HashMismatchError struct {
	What    string
	TableID uint32
	Offset  int
}

func (e *HashMismatchError) Error() string {
	if e.What == "manifest header" {
		return "snapshot: manifest header hash mismatch"
	}
	return fmt.Sprintf("snapshot: hash mismatch for %s (table %d, page %d)", e.What, e.TableID, e.Offset)
}

// MissingObjectError reports that a manifest references an object the
// object repository does not have (spec.md §7 "missing object").
type MissingObjectError struct {
	TableID uint32
	Offset  int
	Hash    [32]byte
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("snapshot: missing object %x (table %d, page %d)", e.Hash, e.TableID, e.Offset)
}

// ErrNoValidSnapshot is returned by Latest when a snapshot root contains
// no directory with a verifiable manifest (spec.md §4.8 "callers treat a
// directory without a valid manifest as non-existent").
var ErrNoValidSnapshot = fmt.Errorf("snapshot: no valid snapshot found")
