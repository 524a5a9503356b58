// Package page implements the fixed-size, page-based row store: packing
// heterogeneous BSATN-typed rows into pages with an inline fixed part and a
// per-page var-len arena of chained granules (spec.md §3, §4.2).
package page

import (
	"fmt"

	"github.com/cuemby/veltadb/pkg/sats"
)

// VarLenRefWidth is the fixed byte width of a var-len ref slot embedded in a
// row's fixed part: 1 byte kind + 4 byte granule head / unused + 4 byte
// payload length + 32 byte blake3 blob hash (used only when Kind==VarLenBlob).
const VarLenRefWidth = 41

// VarLenRefAlign is the alignment of a var-len ref slot.
const VarLenRefAlign = 4

// NullIndex marks the end of a free-list or granule chain.
const NullIndex uint32 = 0xFFFFFFFF

// ColumnLayout describes one top-level column (field) of a row type.
type ColumnLayout struct {
	Name   string
	Type   *sats.Type
	Offset int
	Width  int
	Align  int
	VarLen bool // true => the fixed part holds a VarLenRef, not the value itself
}

// RowTypeLayout is the precomputed byte layout of a row type: per-column
// offset/alignment/classification, and the row's total fixed-part size
// (spec.md §3 "RowTypeLayout").
type RowTypeLayout struct {
	RowType      *sats.Type
	Columns      []ColumnLayout
	FixedRowSize int
	Align        int
}

// ComputeLayout derives a RowTypeLayout from a product AlgebraicType. Each
// column is classified primitive / nested-product / sum / var-len per
// spec.md §3: a column is var-len if its declared type is string/array/map,
// or if it is a product or sum that recursively contains any such field (the
// glossary's "large product/sum"). Column widths are BSATN byte-length
// bounds, not machine-alignment slots — the page's fixed region is a plain
// byte-for-byte concatenation, matching the wire encoding's own "no
// framing" rule (spec.md §4.1), so offsets are a pure running sum.
func ComputeLayout(rowType *sats.Type) (*RowTypeLayout, error) {
	if rowType.Kind != sats.KindProduct {
		return nil, fmt.Errorf("page: row type must be a product, got %s", rowType.Kind)
	}
	l := &RowTypeLayout{RowType: rowType, Align: 1}
	offset := 0
	for _, f := range rowType.Fields {
		varLen, width := classify(f.Type)
		l.Columns = append(l.Columns, ColumnLayout{
			Name:   f.Name,
			Type:   f.Type,
			Offset: offset,
			Width:  width,
			Align:  1,
			VarLen: varLen,
		})
		offset += width
	}
	l.FixedRowSize = offset
	return l, nil
}

// classify returns whether t is var-len at the page-layout level and its
// fixed slot width (VarLenRefWidth if var-len). For a sum, width is sized
// to the widest non-var-len variant; a variant that encodes to fewer bytes
// leaves the rest of the slot as don't-care padding — ReadColumn recovers
// the real encoded length with sats.DecodePrefix rather than trusting the
// slot to be fully meaningful.
func classify(t *sats.Type) (varLen bool, width int) {
	switch t.Kind {
	case sats.KindString, sats.KindBytes, sats.KindArray, sats.KindMap:
		return true, VarLenRefWidth
	case sats.KindProduct:
		total := 0
		for _, f := range t.Fields {
			fv, fw := classify(f.Type)
			if fv {
				return true, VarLenRefWidth
			}
			total += fw
		}
		return false, total
	case sats.KindSum:
		maxWidth := 0
		for _, f := range t.Fields {
			fv, fw := classify(f.Type)
			if fv {
				return true, VarLenRefWidth
			}
			if fw > maxWidth {
				maxWidth = fw
			}
		}
		return false, 1 + maxWidth
	default:
		return false, t.Kind.Width()
	}
}

// ColumnByName returns the column index for name, or -1 if not found.
func (l *RowTypeLayout) ColumnByName(name string) int {
	for i, c := range l.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
