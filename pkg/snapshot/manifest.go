package snapshot

import (
	"fmt"

	"lukechampine.com/blake3"

	"github.com/cuemby/veltadb/pkg/sats"
)

// magic is the snapshot manifest's 4-byte marker, spelled "txyz" in bytes
// and 0x7478797a read big-endian (spec.md §6 "Magic 0x7478797A (\"txyz\")").
var magic = [4]byte{'t', 'x', 'y', 'z'}

const manifestFormatVersion uint32 = 1

// headerHashSize is the byte length of the manifest file's leading content
// hash (spec.md §4.8 "a 32-byte header hash followed by a BSATN-encoded
// Snapshot manifest").
const headerHashSize = 32

// BlobEntry records one blob the snapshot references, with the refcount
// to restore it at (spec.md §4.8).
type BlobEntry struct {
	Hash [32]byte
	Uses uint32
}

// TableEntry records one table's schema-carrying id and the content
// hashes of every page holding its committed rows (spec.md §4.8).
type TableEntry struct {
	TableID    uint32
	PageHashes [][32]byte
}

// Manifest is the decoded form of a snapshot's BSATN-encoded metadata
// (spec.md §4.8 "Snapshot manifest fields").
type Manifest struct {
	FormatVersion uint32
	DatabaseID    string
	InstanceID    string
	ABIVersion    uint32
	TxOffset      uint64
	Blobs         []BlobEntry
	Tables        []TableEntry
}

var blobEntryType = sats.Product(
	sats.Field{Name: "hash", Type: sats.Bytes()},
	sats.Field{Name: "uses", Type: sats.U32()},
)

var tableEntryType = sats.Product(
	sats.Field{Name: "table_id", Type: sats.U32()},
	sats.Field{Name: "page_hashes", Type: sats.Array(sats.Bytes())},
)

var manifestType = sats.Product(
	sats.Field{Name: "magic", Type: sats.Bytes()},
	sats.Field{Name: "format_version", Type: sats.U32()},
	sats.Field{Name: "database_id", Type: sats.String()},
	sats.Field{Name: "instance_id", Type: sats.String()},
	sats.Field{Name: "abi_version", Type: sats.U32()},
	sats.Field{Name: "tx_offset", Type: sats.U64()},
	sats.Field{Name: "blobs", Type: sats.Array(blobEntryType)},
	sats.Field{Name: "tables", Type: sats.Array(tableEntryType)},
)

func (m Manifest) toValue() sats.Value {
	blobs := make([]sats.Value, len(m.Blobs))
	for i, b := range m.Blobs {
		blobs[i] = sats.ProductValue(sats.BytesValue(b.Hash[:]), sats.U32Value(b.Uses))
	}
	tables := make([]sats.Value, len(m.Tables))
	for i, t := range m.Tables {
		hashes := make([]sats.Value, len(t.PageHashes))
		for j, h := range t.PageHashes {
			hashes[j] = sats.BytesValue(h[:])
		}
		tables[i] = sats.ProductValue(sats.U32Value(t.TableID), sats.ArrayValue(hashes...))
	}
	return sats.ProductValue(
		sats.BytesValue(magic[:]),
		sats.U32Value(m.FormatVersion),
		sats.StringValue(m.DatabaseID),
		sats.StringValue(m.InstanceID),
		sats.U32Value(m.ABIVersion),
		sats.U64Value(m.TxOffset),
		sats.ArrayValue(blobs...),
		sats.ArrayValue(tables...),
	)
}

func manifestFromValue(v sats.Value) (Manifest, error) {
	if len(v.Elems) != len(manifestType.Fields) {
		return Manifest{}, fmt.Errorf("snapshot: malformed manifest value")
	}
	gotMagic := v.Elems[0].Bytes
	if len(gotMagic) != 4 || gotMagic[0] != magic[0] || gotMagic[1] != magic[1] || gotMagic[2] != magic[2] || gotMagic[3] != magic[3] {
		return Manifest{}, fmt.Errorf("snapshot: bad manifest magic %x", gotMagic)
	}
	m := Manifest{
		FormatVersion: uint32(v.Elems[1].AsUint64()),
		DatabaseID:    v.Elems[2].Str,
		InstanceID:    v.Elems[3].Str,
		ABIVersion:    uint32(v.Elems[4].AsUint64()),
		TxOffset:      v.Elems[5].AsUint64(),
	}
	if m.FormatVersion != manifestFormatVersion {
		return Manifest{}, fmt.Errorf("snapshot: unsupported manifest format version %d", m.FormatVersion)
	}
	for _, bv := range v.Elems[6].Items {
		var b BlobEntry
		copy(b.Hash[:], bv.Elems[0].Bytes)
		b.Uses = uint32(bv.Elems[1].AsUint64())
		m.Blobs = append(m.Blobs, b)
	}
	for _, tv := range v.Elems[7].Items {
		t := TableEntry{TableID: uint32(tv.Elems[0].AsUint64())}
		for _, hv := range tv.Elems[1].Items {
			var h [32]byte
			copy(h[:], hv.Bytes)
			t.PageHashes = append(t.PageHashes, h)
		}
		m.Tables = append(m.Tables, t)
	}
	return m, nil
}

// encodeManifest BSATN-encodes m and prefixes it with the blake3 hash of
// that encoding (spec.md §4.8 "a 32-byte header hash followed by a
// BSATN-encoded Snapshot manifest").
func encodeManifest(m Manifest) ([]byte, error) {
	body, err := sats.Encode(m.toValue(), manifestType)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	hash := blake3.Sum256(body)
	out := make([]byte, 0, headerHashSize+len(body))
	out = append(out, hash[:]...)
	out = append(out, body...)
	return out, nil
}

// decodeManifest verifies the header hash and decodes the manifest body.
func decodeManifest(data []byte) (Manifest, error) {
	if len(data) < headerHashSize {
		return Manifest{}, fmt.Errorf("snapshot: manifest file too short")
	}
	headerHash := data[:headerHashSize]
	body := data[headerHashSize:]
	gotHash := blake3.Sum256(body)
	if !bytesEqual(headerHash, gotHash[:]) {
		return Manifest{}, &HashMismatchError{What: "manifest header"}
	}
	v, err := sats.Decode(body, manifestType)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: decode manifest: %w", err)
	}
	return manifestFromValue(v)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// manifestFileName returns NNNN...NNNN.snapshot.bsatn for the given
// offset (spec.md §4.8 directory naming).
func manifestFileName(offset uint64) string {
	return fmt.Sprintf("%020d.snapshot.bsatn", offset)
}

// DirName returns the top-level snapshot directory name for an offset
// (spec.md §4.8 "root/NNNNNNNNNNNNNNNNNNNN.snapshot.stdb/").
func DirName(offset uint64) string {
	return fmt.Sprintf("%020d.snapshot.stdb", offset)
}
