package datastore

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/veltadb/pkg/page"
	"github.com/cuemby/veltadb/pkg/sats"
)

// mutationKind tags a commitRecord as an insert or a delete, the only two
// mutation shapes a commit carries (schema changes go through the
// catalog directly and are not logged as row records).
type mutationKind = uint8

const (
	mutationInsert mutationKind = 0
	mutationDelete mutationKind = 1
)

// commitRecord is one row mutation within a commit's payload: enough to
// re-apply the mutation against committed state during log replay
// (spec.md §4.7 "payload is a bounded envelope of records").
type commitRecord struct {
	Kind    mutationKind
	TableID uint32
	Row     []byte
}

var recordType = sats.Product(
	sats.Field{Name: "kind", Type: sats.U8()},
	sats.Field{Name: "table_id", Type: sats.U32()},
	sats.Field{Name: "row", Type: sats.Bytes()},
)

// commitPayloadType is an array of records. Its BSATN encoding leads with
// a u32 LE element count, which is exactly what commitlog's recordCount
// reads off the front of a commit's payload to advance tx_offset.
var commitPayloadType = sats.Array(recordType)

func encodeCommitPayload(records []commitRecord) ([]byte, error) {
	items := make([]sats.Value, len(records))
	for i, r := range records {
		items[i] = sats.ProductValue(
			sats.U8Value(r.Kind),
			sats.U32Value(r.TableID),
			sats.BytesValue(r.Row),
		)
	}
	return sats.Encode(sats.ArrayValue(items...), commitPayloadType)
}

func decodeCommitPayload(data []byte) ([]commitRecord, error) {
	v, err := sats.Decode(data, commitPayloadType)
	if err != nil {
		return nil, fmt.Errorf("datastore: decode commit payload: %w", err)
	}
	records := make([]commitRecord, len(v.Items))
	for i, item := range v.Items {
		records[i] = commitRecord{
			Kind:    uint8(item.Elems[0].AsUint64()),
			TableID: uint32(item.Elems[1].AsUint64()),
			Row:     item.Elems[2].Bytes,
		}
	}
	return records, nil
}

// encodeRowPointer/decodeRowPointer carry a committed RowPointer inside a
// delete commitRecord's Row field: a delete needs only the location of
// the row it removes, not its content (the replaying reader reads the
// still-present committed row to update indexes before deleting it, the
// same order the live commit path uses).
func encodeRowPointer(ptr page.RowPointer) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], ptr.PageIndex)
	binary.LittleEndian.PutUint32(buf[4:8], ptr.Slot)
	return buf
}

func decodeRowPointer(data []byte, ptr *page.RowPointer) error {
	if len(data) != 8 {
		return fmt.Errorf("datastore: malformed row pointer record (%d bytes)", len(data))
	}
	ptr.Subspace = page.Committed
	ptr.PageIndex = binary.LittleEndian.Uint32(data[0:4])
	ptr.Slot = binary.LittleEndian.Uint32(data[4:8])
	return nil
}
