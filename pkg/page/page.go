package page

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/veltadb/pkg/sats"
)

const (
	// Size is the fixed page size (spec.md §3: "64 KiB by default").
	Size = 64 * 1024

	// HeaderSize is the fixed byte size of the page header.
	HeaderSize = 32

	// GranuleDataSize is the payload capacity of one var-len granule
	// (spec.md §3: "64-128 bytes").
	GranuleDataSize = 56
	// granuleSlotSize is GranuleDataSize plus the 4-byte next-link.
	granuleSlotSize = GranuleDataSize + 4

	// varLenBudget and numGranulesPerPage mirror the arithmetic RowsPerPage
	// performs at runtime: the var-len arena gets a quarter of the
	// post-header page, and numGranules falls out of that budget before
	// fixedRowSize ever enters the computation, so it is the same for every
	// page regardless of row type.
	varLenBudget       = (Size - HeaderSize) / 4
	numGranulesPerPage = varLenBudget / granuleSlotSize

	// SpillThreshold is the encoded-byte-length above which a var-len field
	// is spilled to the blob store rather than stored inline (spec.md §9
	// "Large-blob spill": "a property of the page size and granule size...
	// deterministic"). It is tied to the granule arena's actual data
	// capacity (numGranulesPerPage*GranuleDataSize) rather than chosen
	// independently, so every value at or below it is guaranteed to fit a
	// single fresh page's granule chain.
	SpillThreshold = numGranulesPerPage * GranuleDataSize

	formatVersion uint16 = 1
)

// header byte offsets.
const (
	offFormatVersion    = 0
	offFixedRowSize     = 2
	offMaxRows          = 4
	offRowCount         = 8
	offFreeSlotHead     = 12
	offNumGranules      = 16
	offFreeGranuleHead  = 20
	offPresenceBitmapLn = 24
)

// Page is a fixed-size buffer holding a dense array of fixed-row slots and a
// chained arena of var-len granules (spec.md §3 "Page").
type Page struct {
	buf             []byte
	cachedHash      uint64
	cachedHashValid bool
}

// RowsPerPage returns the number of fixed-row slots and var-len granules a
// page can hold for a given fixed row size. It is a pure function of
// fixedRowSize and the page size constants, so two stores with the same row
// type always agree on capacity (needed for deterministic spill decisions
// and for DeleteTable's per-page bitset sizing, spec.md §4.5).
func RowsPerPage(fixedRowSize int) (maxRows, numGranules int) {
	remaining := Size - HeaderSize
	numGranules = numGranulesPerPage
	fixedBudget := remaining - numGranules*granuleSlotSize

	effectiveRowSize := fixedRowSize
	if effectiveRowSize < 1 {
		effectiveRowSize = 1
	}
	maxRows = fixedBudget / effectiveRowSize
	for maxRows > 0 && bitmapBytes(maxRows)+maxRows*effectiveRowSize > fixedBudget {
		maxRows--
	}
	if maxRows < 0 {
		maxRows = 0
	}
	return maxRows, numGranules
}

func bitmapBytes(maxRows int) int {
	return (maxRows + 7) / 8
}

// New allocates a fresh, zeroed page for the given fixed row size: header
// initialized, presence bitmap clear, free lists threaded through every
// slot and granule (spec.md §4.2 step 3, §4.3).
func New(fixedRowSize int) *Page {
	p := &Page{buf: make([]byte, Size)}
	p.Reset(fixedRowSize)
	return p
}

// Reset re-initializes p in place for fixedRowSize, the page pool's
// "reset-in-place on checkout" (spec.md §4.3).
func (p *Page) Reset(fixedRowSize int) {
	for i := range p.buf {
		p.buf[i] = 0
	}
	maxRows, numGranules := RowsPerPage(fixedRowSize)
	binary.LittleEndian.PutUint16(p.buf[offFormatVersion:], formatVersion)
	binary.LittleEndian.PutUint16(p.buf[offFixedRowSize:], uint16(fixedRowSize))
	binary.LittleEndian.PutUint32(p.buf[offMaxRows:], uint32(maxRows))
	binary.LittleEndian.PutUint32(p.buf[offRowCount:], 0)
	binary.LittleEndian.PutUint32(p.buf[offNumGranules:], uint32(numGranules))
	binary.LittleEndian.PutUint32(p.buf[offPresenceBitmapLn:], uint32(bitmapBytes(maxRows)))

	p.threadFreeSlots(maxRows, fixedRowSize)
	p.threadFreeGranules(numGranules)
	p.invalidateHash()
}

func (p *Page) threadFreeSlots(maxRows, fixedRowSize int) {
	if maxRows == 0 {
		binary.LittleEndian.PutUint32(p.buf[offFreeSlotHead:], NullIndex)
		return
	}
	binary.LittleEndian.PutUint32(p.buf[offFreeSlotHead:], 0)
	if fixedRowSize < 4 {
		// Too narrow to hold an inline free-list link; free slots are found
		// by scanning the presence bitmap instead (see nextFreeSlot).
		return
	}
	base := p.fixedRegionOffset()
	for i := 0; i < maxRows; i++ {
		off := base + i*fixedRowSize
		next := uint32(i + 1)
		if i == maxRows-1 {
			next = NullIndex
		}
		binary.LittleEndian.PutUint32(p.buf[off:], next)
	}
}

func (p *Page) threadFreeGranules(numGranules int) {
	if numGranules == 0 {
		binary.LittleEndian.PutUint32(p.buf[offFreeGranuleHead:], NullIndex)
		return
	}
	binary.LittleEndian.PutUint32(p.buf[offFreeGranuleHead:], 0)
	base := p.varLenRegionOffset()
	for i := 0; i < numGranules; i++ {
		off := base + i*granuleSlotSize
		next := uint32(i + 1)
		if i == numGranules-1 {
			next = NullIndex
		}
		binary.LittleEndian.PutUint32(p.buf[off+GranuleDataSize:], next)
	}
}

// --- header accessors ---

func (p *Page) FixedRowSize() int {
	return int(binary.LittleEndian.Uint16(p.buf[offFixedRowSize:]))
}
func (p *Page) MaxRows() int {
	return int(binary.LittleEndian.Uint32(p.buf[offMaxRows:]))
}
func (p *Page) RowCount() int {
	return int(binary.LittleEndian.Uint32(p.buf[offRowCount:]))
}
func (p *Page) setRowCount(n int) {
	binary.LittleEndian.PutUint32(p.buf[offRowCount:], uint32(n))
}
func (p *Page) NumGranules() int {
	return int(binary.LittleEndian.Uint32(p.buf[offNumGranules:]))
}
func (p *Page) freeSlotHead() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offFreeSlotHead:])
}
func (p *Page) setFreeSlotHead(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offFreeSlotHead:], v)
}
func (p *Page) freeGranuleHead() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offFreeGranuleHead:])
}
func (p *Page) setFreeGranuleHead(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offFreeGranuleHead:], v)
}
func (p *Page) bitmapLen() int {
	return int(binary.LittleEndian.Uint32(p.buf[offPresenceBitmapLn:]))
}

func (p *Page) bitmapOffset() int { return HeaderSize }
func (p *Page) fixedRegionOffset() int {
	return p.bitmapOffset() + p.bitmapLen()
}
func (p *Page) varLenRegionOffset() int {
	return p.fixedRegionOffset() + p.MaxRows()*p.FixedRowSize()
}

// IsFull reports whether the page has no free fixed-row slots. RowCount vs
// MaxRows is used rather than freeSlotHead==NullIndex because rows narrower
// than 4 bytes have no inline free-list link (see threadFreeSlots) and never
// update the head pointer past its initial value.
func (p *Page) IsFull() bool {
	return p.RowCount() >= p.MaxRows()
}

// Empty reports whether the page holds no rows.
func (p *Page) Empty() bool {
	return p.RowCount() == 0
}

// --- presence bitmap ---

func (p *Page) presenceBit(slot int) bool {
	off := p.bitmapOffset() + slot/8
	return p.buf[off]&(1<<uint(slot%8)) != 0
}

func (p *Page) setPresenceBit(slot int, present bool) {
	off := p.bitmapOffset() + slot/8
	mask := byte(1 << uint(slot%8))
	if present {
		p.buf[off] |= mask
	} else {
		p.buf[off] &^= mask
	}
}

// Present reports whether slot currently holds a live row.
func (p *Page) Present(slot int) bool {
	if slot < 0 || slot >= p.MaxRows() {
		return false
	}
	return p.presenceBit(slot)
}

func (p *Page) slotOffset(slot int) int {
	return p.fixedRegionOffset() + slot*p.FixedRowSize()
}

// Slots returns the occupied slot indices in ascending (page-then-slot)
// order, the iteration order the scan iterator relies on (spec.md §4.6).
func (p *Page) Slots() []int {
	var out []int
	for i := 0; i < p.MaxRows(); i++ {
		if p.presenceBit(i) {
			out = append(out, i)
		}
	}
	return out
}

func (p *Page) invalidateHash() { p.cachedHashValid = false }

func nextFreeSlotScan(p *Page) int {
	for i := 0; i < p.MaxRows(); i++ {
		if !p.presenceBit(i) {
			return i
		}
	}
	return -1
}

// allocSlot pops a free fixed-row slot, or returns -1 if the page is full.
func (p *Page) allocSlot() int {
	if p.FixedRowSize() < 4 {
		slot := nextFreeSlotScan(p)
		if slot < 0 {
			return -1
		}
		return slot
	}
	head := p.freeSlotHead()
	if head == NullIndex {
		return -1
	}
	slot := int(head)
	next := binary.LittleEndian.Uint32(p.buf[p.slotOffset(slot):])
	p.setFreeSlotHead(next)
	return slot
}

func (p *Page) freeSlot(slot int) {
	if p.FixedRowSize() >= 4 {
		binary.LittleEndian.PutUint32(p.buf[p.slotOffset(slot):], p.freeSlotHead())
		p.setFreeSlotHead(uint32(slot))
	}
	p.setPresenceBit(slot, false)
}

// --- var-len ref ---

type varLenKind uint8

const (
	varLenGranule varLenKind = iota
	varLenBlob
)

type varLenRef struct {
	kind   varLenKind
	head   uint32 // granule chain head (varLenGranule)
	length uint32 // encoded byte length of the field's BSATN payload
	hash   BlobHash
}

func readVarLenRef(b []byte) varLenRef {
	var r varLenRef
	r.kind = varLenKind(b[0])
	r.head = binary.LittleEndian.Uint32(b[1:5])
	r.length = binary.LittleEndian.Uint32(b[5:9])
	copy(r.hash[:], b[9:41])
	return r
}

func writeVarLenRef(b []byte, r varLenRef) {
	b[0] = byte(r.kind)
	binary.LittleEndian.PutUint32(b[1:5], r.head)
	binary.LittleEndian.PutUint32(b[5:9], r.length)
	copy(b[9:41], r.hash[:])
}

// --- granule arena ---

func (p *Page) granuleOffset(idx int) int {
	return p.varLenRegionOffset() + idx*granuleSlotSize
}

func (p *Page) allocGranule() (int, bool) {
	head := p.freeGranuleHead()
	if head == NullIndex {
		return 0, false
	}
	off := p.granuleOffset(int(head))
	next := binary.LittleEndian.Uint32(p.buf[off+GranuleDataSize:])
	p.setFreeGranuleHead(next)
	return int(head), true
}

func (p *Page) freeGranule(idx int) {
	off := p.granuleOffset(idx)
	binary.LittleEndian.PutUint32(p.buf[off+GranuleDataSize:], p.freeGranuleHead())
	p.setFreeGranuleHead(uint32(idx))
}

// writeGranuleChain stores data across as many granules as needed, chaining
// them, and returns the head granule index. It fails if the page does not
// have enough free granules.
func (p *Page) writeGranuleChain(data []byte) (uint32, error) {
	if len(data) == 0 {
		return NullIndex, nil
	}
	var headIdx = -1
	var prevIdx = -1
	remaining := data
	for len(remaining) > 0 {
		idx, ok := p.allocGranule()
		if !ok {
			// roll back partial allocation
			if headIdx >= 0 {
				p.freeGranuleChain(uint32(headIdx))
			}
			return 0, fmt.Errorf("page: out of granules")
		}
		if headIdx < 0 {
			headIdx = idx
		} else {
			off := p.granuleOffset(prevIdx)
			binary.LittleEndian.PutUint32(p.buf[off+GranuleDataSize:], uint32(idx))
		}
		prevIdx = idx
		n := GranuleDataSize
		if n > len(remaining) {
			n = len(remaining)
		}
		off := p.granuleOffset(idx)
		copy(p.buf[off:off+GranuleDataSize], remaining[:n])
		// zero-pad the rest of this granule's data region
		for i := n; i < GranuleDataSize; i++ {
			p.buf[off+i] = 0
		}
		binary.LittleEndian.PutUint32(p.buf[off+GranuleDataSize:], NullIndex)
		remaining = remaining[n:]
	}
	return uint32(headIdx), nil
}

func (p *Page) readGranuleChain(head uint32, length int) []byte {
	out := make([]byte, 0, length)
	idx := head
	for idx != NullIndex && len(out) < length {
		off := p.granuleOffset(int(idx))
		n := length - len(out)
		if n > GranuleDataSize {
			n = GranuleDataSize
		}
		out = append(out, p.buf[off:off+n]...)
		idx = binary.LittleEndian.Uint32(p.buf[off+GranuleDataSize:])
	}
	return out
}

func (p *Page) freeGranuleChain(head uint32) {
	idx := head
	for idx != NullIndex {
		off := p.granuleOffset(int(idx))
		next := binary.LittleEndian.Uint32(p.buf[off+GranuleDataSize:])
		p.freeGranule(int(idx))
		idx = next
	}
}

// --- row insert / read / delete ---

// Insert writes v (structurally typed at layout.RowType) into a free slot
// and returns the slot index. Var-len columns whose encoded length exceeds
// SpillThreshold are spilled to blobs, otherwise stored inline in the page's
// granule arena (spec.md §4.2, §9).
func (p *Page) Insert(v sats.Value, layout *RowTypeLayout, blobs BlobStore) (int, error) {
	if v.Kind != sats.KindProduct || len(v.Elems) != len(layout.Columns) {
		return -1, fmt.Errorf("page: value does not match row layout")
	}
	slot := p.allocSlot()
	if slot < 0 {
		return -1, fmt.Errorf("page: full")
	}

	// Encode every var-len column up front so a granule shortfall doesn't
	// leave the slot half-written.
	type pending struct {
		col  ColumnLayout
		data []byte
	}
	var varLens []pending
	for i, col := range layout.Columns {
		if col.VarLen {
			enc, err := sats.Encode(v.Elems[i], col.Type)
			if err != nil {
				p.freeSlot(slot)
				return -1, err
			}
			varLens = append(varLens, pending{col, enc})
		}
	}

	base := p.slotOffset(slot)
	for i, col := range layout.Columns {
		if col.VarLen {
			continue
		}
		enc, err := sats.Encode(v.Elems[i], col.Type)
		if err != nil {
			p.freeSlot(slot)
			return -1, err
		}
		copy(p.buf[base+col.Offset:base+col.Offset+col.Width], enc)
	}

	for _, pend := range varLens {
		var ref varLenRef
		if len(pend.data) > SpillThreshold {
			hash, err := blobs.Put(pend.data)
			if err != nil {
				p.rollbackInsert(slot, layout)
				return -1, err
			}
			ref = varLenRef{kind: varLenBlob, length: uint32(len(pend.data)), hash: hash}
		} else {
			head, err := p.writeGranuleChain(pend.data)
			if err != nil {
				p.rollbackInsert(slot, layout)
				return -1, err
			}
			ref = varLenRef{kind: varLenGranule, head: head, length: uint32(len(pend.data))}
		}
		off := base + pend.col.Offset
		writeVarLenRef(p.buf[off:off+VarLenRefWidth], ref)
	}

	p.setPresenceBit(slot, true)
	p.setRowCount(p.RowCount() + 1)
	p.invalidateHash()
	return slot, nil
}

// rollbackInsert frees whatever var-len storage an in-progress insert had
// already committed, then returns the slot to the free list.
func (p *Page) rollbackInsert(slot int, layout *RowTypeLayout) {
	base := p.slotOffset(slot)
	for _, col := range layout.Columns {
		if !col.VarLen {
			continue
		}
		off := base + col.Offset
		ref := readVarLenRef(p.buf[off : off+VarLenRefWidth])
		if ref.kind == varLenGranule && ref.head != NullIndex {
			p.freeGranuleChain(ref.head)
		}
	}
	p.freeSlot(slot)
}

// ReadColumn projects a single column of the row at slot to an
// AlgebraicValue (spec.md §4.2 "project a single column").
func (p *Page) ReadColumn(slot int, layout *RowTypeLayout, colIdx int, blobs BlobStore) (sats.Value, error) {
	col := layout.Columns[colIdx]
	b, err := p.columnBytes(slot, col, blobs)
	if err != nil {
		return sats.Value{}, err
	}
	return sats.Decode(b, col.Type)
}

func (p *Page) columnBytes(slot int, col ColumnLayout, blobs BlobStore) ([]byte, error) {
	base := p.slotOffset(slot)
	if !col.VarLen {
		window := p.buf[base+col.Offset : base+col.Offset+col.Width]
		_, n, err := sats.DecodePrefix(window, col.Type)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		copy(b, window[:n])
		return b, nil
	}
	off := base + col.Offset
	ref := readVarLenRef(p.buf[off : off+VarLenRefWidth])
	switch ref.kind {
	case varLenGranule:
		if ref.head == NullIndex {
			return []byte{}, nil
		}
		return p.readGranuleChain(ref.head, int(ref.length)), nil
	case varLenBlob:
		data, ok := blobs.Get(ref.hash)
		if !ok {
			return nil, fmt.Errorf("page: blob %x referenced by row not found", ref.hash)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("page: unknown var-len ref kind %d", ref.kind)
	}
}

// RowBytes returns the complete BSATN encoding of the row at slot: the
// concatenation of each column's own encoding in declared order, which is
// exactly the product encoding rule of spec.md §4.1 — so re-encoding the
// decoded row reproduces these same bytes.
func (p *Page) RowBytes(slot int, layout *RowTypeLayout, blobs BlobStore) ([]byte, error) {
	out := make([]byte, 0, layout.FixedRowSize)
	for _, col := range layout.Columns {
		b, err := p.columnBytes(slot, col, blobs)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// ReadValue decodes the full row at slot to an AlgebraicValue.
func (p *Page) ReadValue(slot int, layout *RowTypeLayout, blobs BlobStore) (sats.Value, error) {
	b, err := p.RowBytes(slot, layout, blobs)
	if err != nil {
		return sats.Value{}, err
	}
	return sats.Decode(b, layout.RowType)
}

// Delete removes the row at slot: flips the presence bit, frees any
// granule chains, and decrements blob refcounts for blob-backed columns
// (spec.md §4.2 "Delete path").
func (p *Page) Delete(slot int, layout *RowTypeLayout, blobs BlobStore) error {
	if !p.Present(slot) {
		return fmt.Errorf("page: slot %d not present", slot)
	}
	base := p.slotOffset(slot)
	for _, col := range layout.Columns {
		if !col.VarLen {
			continue
		}
		off := base + col.Offset
		ref := readVarLenRef(p.buf[off : off+VarLenRefWidth])
		switch ref.kind {
		case varLenGranule:
			if ref.head != NullIndex {
				p.freeGranuleChain(ref.head)
			}
		case varLenBlob:
			blobs.Dec(ref.hash)
		}
	}
	p.freeSlot(slot)
	p.setRowCount(p.RowCount() - 1)
	p.invalidateHash()
	return nil
}

// Bytes exposes the raw page buffer (for content hashing and
// serialization). Callers must not retain references across mutation.
func (p *Page) Bytes() []byte { return p.buf }
