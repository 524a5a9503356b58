package sats

import "bytes"

// EqualBytes reports whether the BSATN encoding of v at type t equals the
// raw byte slice enc, without decoding enc — the admission spec.md §4.1
// describes as "an equality check between a BSATN byte slice and an
// in-memory value without fully deserializing", used by index key lookups.
func EqualBytes(enc []byte, v Value, t *Type) (bool, error) {
	got, err := Encode(v, t)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, enc), nil
}

// Equal is structural equality between two decoded values of the same type.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool
	case KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64, KindI128, KindU128, KindI256, KindU256:
		return bytes.Equal(a.Int, b.Int)
	case KindF32:
		return a.F32 == b.F32
	case KindF64:
		return a.F64 == b.F64
	case KindString:
		return a.Str == b.Str
	case KindBytes:
		return bytes.Equal(a.Bytes, b.Bytes)
	case KindArray:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Pairs) != len(b.Pairs) {
			return false
		}
		for i := range a.Pairs {
			if !Equal(a.Pairs[i].Key, b.Pairs[i].Key) || !Equal(a.Pairs[i].Val, b.Pairs[i].Val) {
				return false
			}
		}
		return true
	case KindProduct:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case KindSum:
		if a.Tag != b.Tag {
			return false
		}
		ai, bi := Value{}, Value{}
		if a.Inner != nil {
			ai = *a.Inner
		}
		if b.Inner != nil {
			bi = *b.Inner
		}
		return Equal(ai, bi)
	default:
		return false
	}
}
