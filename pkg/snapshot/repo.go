// Package snapshot implements the on-disk, content-addressed
// point-in-time image of a datastore's committed state (spec.md §4.8):
// creation with hardlink-based dedup against a prior snapshot,
// restoration into pool-owned pages, synchronization between
// repositories, and verification.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lukechampine.com/blake3"

	"github.com/cuemby/veltadb/pkg/dirtrie"
	"github.com/cuemby/veltadb/pkg/logging"
	"github.com/cuemby/veltadb/pkg/metrics"
	"github.com/cuemby/veltadb/pkg/page"
)

const lockFileName = "LOCK"

// Identity is the fixed per-database identity stamped into every
// manifest (spec.md §4.8 "database identity and instance id").
type Identity struct {
	DatabaseID string
	InstanceID string
	ABIVersion uint32
}

// objectsDir returns the object-trie directory for a snapshot directory.
func objectsDir(snapshotDir string) string {
	return filepath.Join(snapshotDir, "objects")
}

// Create writes a new snapshot at root/DirName(txOffset), deduplicating
// object writes against prevDir (the previous snapshot's directory, or ""
// for none) via hardlinks (spec.md §4.8 "Creation", "Deduplication").
func Create(root string, src Source, id Identity, txOffset uint64, prevDir string) (string, error) {
	timer := metrics.NewTimer()
	log := logging.WithComponent("snapshot")

	dir := filepath.Join(root, DirName(txOffset))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("snapshot: create dir: %w", err)
	}

	lock, err := acquireLock(dir)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	defer lock.Close()

	trie, err := dirtrie.Open(objectsDir(dir))
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	var prevTrie *dirtrie.Trie
	if prevDir != "" {
		prevTrie, err = dirtrie.Open(objectsDir(prevDir))
		if err != nil {
			metrics.SnapshotsTotal.WithLabelValues("error").Inc()
			return "", err
		}
	}

	manifest := Manifest{
		FormatVersion: manifestFormatVersion,
		DatabaseID:    id.DatabaseID,
		InstanceID:    id.InstanceID,
		ABIVersion:    id.ABIVersion,
		TxOffset:      txOffset,
	}

	for _, t := range src.Tables() {
		entry := TableEntry{TableID: t.TableID()}
		for _, p := range t.Pages() {
			hash := blake3.Sum256(p.Bytes())
			if err := writeOrLink(trie, prevTrie, hash, p.Bytes()); err != nil {
				metrics.SnapshotsTotal.WithLabelValues("error").Inc()
				return "", err
			}
			entry.PageHashes = append(entry.PageHashes, hash)
		}
		manifest.Tables = append(manifest.Tables, entry)
	}

	blobs := src.Blobs()
	for _, h := range blobs.Hashes() {
		data, ok := blobs.Get(h)
		if !ok {
			continue
		}
		uses := blobs.RefCount(h)
		var id dirtrie.ID
		copy(id[:], h[:])
		if err := writeOrLinkID(trie, prevTrie, id, data); err != nil {
			metrics.SnapshotsTotal.WithLabelValues("error").Inc()
			return "", err
		}
		manifest.Blobs = append(manifest.Blobs, BlobEntry{Hash: [32]byte(h), Uses: uint32(uses)})
	}

	data, err := encodeManifest(manifest)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", err
	}
	manifestPath := filepath.Join(dir, manifestFileName(txOffset))
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("snapshot: write manifest: %w", err)
	}

	if err := releaseLock(dir, lock); err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.SnapshotsTotal.WithLabelValues("success").Inc()
	timer.ObserveDuration(metrics.SnapshotCreateDuration)
	log.Info().Uint64("tx_offset", txOffset).Str("dir", dir).Msg("snapshot created")
	return dir, nil
}

func writeOrLink(trie, prevTrie *dirtrie.Trie, hash [32]byte, data []byte) error {
	var id dirtrie.ID
	copy(id[:], hash[:])
	return writeOrLinkID(trie, prevTrie, id, data)
}

func writeOrLinkID(trie, prevTrie *dirtrie.Trie, id dirtrie.ID, data []byte) error {
	if trie.Exists(id) {
		return nil
	}
	if prevTrie != nil {
		linked, err := trie.TryHardlinkFrom(prevTrie, id)
		if err != nil {
			return err
		}
		if linked {
			metrics.SnapshotObjectsHardlinked.Inc()
			return nil
		}
	}
	_, err := trie.WriteEntry(id, data)
	return err
}

func acquireLock(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshot: acquire lock on %s: %w", dir, err)
	}
	return f, nil
}

func releaseLock(dir string, f *os.File) error {
	_ = f.Close()
	if err := os.Remove(filepath.Join(dir, lockFileName)); err != nil {
		return fmt.Errorf("snapshot: release lock: %w", err)
	}
	return nil
}

// Open parses the manifest under dir, verifying its header hash.
func Open(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".snapshot.bsatn") {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return Manifest{}, fmt.Errorf("snapshot: read manifest: %w", err)
			}
			return decodeManifest(data)
		}
	}
	return Manifest{}, ErrNoValidSnapshot
}

// Latest scans root for the newest directory holding a valid manifest, a
// directory lacking one (partial/cancelled creation) being treated as
// absent (spec.md §4.8 "callers treat a directory without a valid
// manifest as non-existent").
func Latest(root string) (dir string, manifest Manifest, err error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return "", Manifest{}, ErrNoValidSnapshot
	}
	if err != nil {
		return "", Manifest{}, fmt.Errorf("snapshot: read root %s: %w", root, err)
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".snapshot.stdb") {
			candidates = append(candidates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))
	for _, name := range candidates {
		full := filepath.Join(root, name)
		m, err := Open(full)
		if err != nil {
			continue
		}
		return full, m, nil
	}
	return "", Manifest{}, ErrNoValidSnapshot
}

// DirForOffset parses the tx_offset a snapshot directory name encodes.
func DirForOffset(name string) (uint64, bool) {
	name = strings.TrimSuffix(filepath.Base(name), ".snapshot.stdb")
	n, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Restore reads the manifest under dir and materializes every table's
// pages through poolForTable, and every blob into blobs at its recorded
// refcount (spec.md §4.8 "Read / restore").
func Restore(dir string, poolForTable func(tableID uint32) (*page.Pool, error), blobs BlobSink) (*Result, error) {
	manifest, err := Open(dir)
	if err != nil {
		return nil, err
	}
	trie, err := dirtrie.Open(objectsDir(dir))
	if err != nil {
		return nil, err
	}

	result := &Result{Manifest: manifest}
	for _, entry := range manifest.Tables {
		pool, err := poolForTable(entry.TableID)
		if err != nil {
			return nil, fmt.Errorf("snapshot: restore table %d: %w", entry.TableID, err)
		}
		rt := RestoredTable{TableID: entry.TableID}
		for i, hash := range entry.PageHashes {
			var id dirtrie.ID
			copy(id[:], hash[:])
			data, err := trie.ReadEntry(id)
			if errors.Is(err, dirtrie.ErrNotFound) {
				return nil, &MissingObjectError{TableID: entry.TableID, Offset: i, Hash: hash}
			}
			if err != nil {
				return nil, err
			}
			p, err := page.Deserialize(data, pool)
			if err != nil {
				return nil, fmt.Errorf("snapshot: restore table %d page %d: %w", entry.TableID, i, err)
			}
			rt.Pages = append(rt.Pages, p)
		}
		result.Tables = append(result.Tables, rt)
	}

	for i, b := range manifest.Blobs {
		var id dirtrie.ID
		copy(id[:], b.Hash[:])
		data, err := trie.ReadEntry(id)
		if errors.Is(err, dirtrie.ErrNotFound) {
			return nil, &MissingObjectError{Offset: i, Hash: b.Hash}
		}
		if err != nil {
			return nil, err
		}
		var h page.BlobHash
		copy(h[:], b.Hash[:])
		if err := blobs.LoadAt(h, data, int(b.Uses)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Verify re-reads every object referenced by dir's manifest, recomputing
// its hash, confirming it matches (spec.md §4.8 "Verify").
func Verify(dir string) error {
	timer := metrics.NewTimer()
	manifest, err := Open(dir)
	if err != nil {
		return err
	}
	trie, err := dirtrie.Open(objectsDir(dir))
	if err != nil {
		return err
	}
	for _, entry := range manifest.Tables {
		for i, hash := range entry.PageHashes {
			if err := verifyObject(trie, hash, entry.TableID, i); err != nil {
				return err
			}
		}
	}
	for i, b := range manifest.Blobs {
		if err := verifyObject(trie, b.Hash, 0, i); err != nil {
			return err
		}
	}
	timer.ObserveDuration(metrics.SnapshotVerifyDuration)
	return nil
}

func verifyObject(trie *dirtrie.Trie, hash [32]byte, tableID uint32, offset int) error {
	var id dirtrie.ID
	copy(id[:], hash[:])
	data, err := trie.ReadEntry(id)
	if errors.Is(err, dirtrie.ErrNotFound) {
		return &MissingObjectError{TableID: tableID, Offset: offset, Hash: hash}
	}
	if err != nil {
		return err
	}
	got := blake3.Sum256(data)
	if got != hash {
		return &HashMismatchError{What: "object", TableID: tableID, Offset: offset}
	}
	return nil
}

// Sync copies every object srcManifest references from srcObjects into
// dstDir's object trie, skipping objects already present, then writes
// srcManifest as dstDir's manifest. It refuses to overwrite an existing
// manifest at the same offset whose hash differs (spec.md §4.8 "Sync
// between repositories").
func Sync(dstRoot string, srcDir string) (dstDir string, err error) {
	srcManifestData, srcPath, err := readManifestFile(srcDir)
	if err != nil {
		return "", err
	}
	offset, ok := DirForOffset(srcDir)
	if !ok {
		return "", fmt.Errorf("snapshot: cannot parse offset from %s", srcDir)
	}
	dstDir = filepath.Join(dstRoot, DirName(offset))

	if existing, _, err := readManifestFile(dstDir); err == nil {
		if !bytesEqual(existing[:headerHashSize], srcManifestData[:headerHashSize]) {
			return "", &HashMismatchError{What: "manifest header"}
		}
		return dstDir, nil
	}

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create dst dir: %w", err)
	}
	dstTrie, err := dirtrie.Open(objectsDir(dstDir))
	if err != nil {
		return "", err
	}
	srcTrie, err := dirtrie.Open(objectsDir(srcDir))
	if err != nil {
		return "", err
	}

	manifest, err := decodeManifest(srcManifestData)
	if err != nil {
		return "", err
	}
	for _, entry := range manifest.Tables {
		for _, hash := range entry.PageHashes {
			if err := syncObject(dstTrie, srcTrie, hash); err != nil {
				return "", err
			}
		}
	}
	for _, b := range manifest.Blobs {
		if err := syncObject(dstTrie, srcTrie, b.Hash); err != nil {
			return "", err
		}
	}

	dstManifestPath := filepath.Join(dstDir, filepath.Base(srcPath))
	if err := os.WriteFile(dstManifestPath, srcManifestData, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write synced manifest: %w", err)
	}
	return dstDir, nil
}

func syncObject(dst, src *dirtrie.Trie, hash [32]byte) error {
	var id dirtrie.ID
	copy(id[:], hash[:])
	if dst.Exists(id) {
		return nil
	}
	linked, err := dst.TryHardlinkFrom(src, id)
	if err != nil {
		return err
	}
	if linked {
		return nil
	}
	data, err := src.ReadEntry(id)
	if errors.Is(err, dirtrie.ErrNotFound) {
		return &MissingObjectError{Hash: hash}
	}
	if err != nil {
		return err
	}
	_, err = dst.WriteEntry(id, data)
	return err
}

func readManifestFile(dir string) (data []byte, path string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".snapshot.bsatn") {
			p := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, "", err
			}
			return data, p, nil
		}
	}
	return nil, "", ErrNoValidSnapshot
}
