package sats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

// Encode serializes v, which must be structurally typed at t, to BSATN.
// Encode never fails for a value that was itself produced by Decode or one
// of the Value constructors in this package; it returns an error on a Kind
// mismatch between v and t, a product whose element count differs from
// t's, a sum tag out of range, or a string that is not valid UTF-8.
func Encode(v Value, t *Type) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v, t, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v Value, t *Type, path string) error {
	if v.Kind != t.Kind {
		return newErr(ErrKindTypeMismatch, path, "value kind %s does not match type kind %s", v.Kind, t.Kind)
	}
	switch t.Kind {
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64, KindI128, KindU128, KindI256, KindU256:
		w := t.Kind.Width()
		b := v.Int
		if len(b) != w {
			b = make([]byte, w)
			copy(b, v.Int)
		}
		buf.Write(b)
	case KindF32:
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v.F32))
		buf.Write(tmp[:])
	case KindF64:
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v.F64))
		buf.Write(tmp[:])
	case KindString:
		if !utf8.ValidString(v.Str) {
			return newErr(ErrKindInvalidUTF8, path, "string is not valid UTF-8")
		}
		writeLenPrefix(buf, len(v.Str))
		buf.WriteString(v.Str)
	case KindBytes:
		writeLenPrefix(buf, len(v.Bytes))
		buf.Write(v.Bytes)
	case KindArray:
		writeLenPrefix(buf, len(v.Items))
		for i, item := range v.Items {
			if err := encodeInto(buf, item, t.Elem, fmt_path(path, "items", i)); err != nil {
				return err
			}
		}
	case KindMap:
		pairs := make([]Pair, len(v.Pairs))
		copy(pairs, v.Pairs)
		sorted, err := sortPairs(pairs, t.Key)
		if err != nil {
			return err
		}
		writeLenPrefix(buf, len(sorted))
		for i, p := range sorted {
			if err := encodeInto(buf, p.Key, t.Key, fmt_path(path, "keys", i)); err != nil {
				return err
			}
			if err := encodeInto(buf, p.Val, t.Val, fmt_path(path, "vals", i)); err != nil {
				return err
			}
		}
	case KindProduct:
		if len(v.Elems) != len(t.Fields) {
			return newErr(ErrKindTypeMismatch, path, "product has %d elements, type has %d fields", len(v.Elems), len(t.Fields))
		}
		for i, f := range t.Fields {
			if err := encodeInto(buf, v.Elems[i], f.Type, fmt_path(path, "fields", i)); err != nil {
				return err
			}
		}
	case KindSum:
		if int(v.Tag) >= len(t.Fields) {
			return newErr(ErrKindInvalidTag, path, "tag %d out of range for %d variants", v.Tag, len(t.Fields))
		}
		buf.WriteByte(v.Tag)
		inner := Value{}
		if v.Inner != nil {
			inner = *v.Inner
		}
		if err := encodeInto(buf, inner, t.Fields[v.Tag].Type, fmt_path(path, "variant", int(v.Tag))); err != nil {
			return err
		}
	}
	return nil
}

func writeLenPrefix(buf *bytes.Buffer, n int) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(n))
	buf.Write(tmp[:])
}

// sortPairs returns pairs sorted by their canonical BSATN key encoding, the
// "maps as sorted pairs for canonical form" rule of spec.md §4.1.
func sortPairs(pairs []Pair, keyType *Type) ([]Pair, error) {
	keyBytes := make([][]byte, len(pairs))
	for i, p := range pairs {
		kb, err := Encode(p.Key, keyType)
		if err != nil {
			return nil, err
		}
		keyBytes[i] = kb
	}
	idx := make([]int, len(pairs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return bytes.Compare(keyBytes[idx[a]], keyBytes[idx[b]]) < 0
	})
	out := make([]Pair, len(pairs))
	for i, j := range idx {
		out[i] = pairs[j]
	}
	return out, nil
}

func fmt_path(path, field string, idx int) string {
	seg := fmt.Sprintf("%s[%d]", field, idx)
	if path == "" {
		return seg
	}
	return path + "." + seg
}
