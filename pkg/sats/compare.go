package sats

import "bytes"

// Compare returns -1, 0, or 1 for a < b, a == b, a > b, under the total
// order BSATN values of the same type admit: scalars compare by value
// (with correct signed/unsigned semantics, not raw little-endian byte
// order), strings/bytes lexicographically, and compound values
// element-wise (products/sums/arrays) with the sum tag compared before its
// payload. Used by page-level row comparison (spec.md §4.2).
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindBool:
		return boolCmp(a.Bool, b.Bool)
	case KindI8, KindI16, KindI32, KindI64:
		return int64Cmp(signedFromLE(a.Int), signedFromLE(b.Int))
	case KindU8, KindU16, KindU32, KindU64:
		return uint64Cmp(unsignedFromLE(a.Int), unsignedFromLE(b.Int))
	case KindI128, KindI256, KindU128, KindU256:
		return wideCmp(a.Kind, a.Int, b.Int)
	case KindF32:
		return f32Cmp(a.F32, b.F32)
	case KindF64:
		return f64Cmp(a.F64, b.F64)
	case KindString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case KindBytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	case KindArray:
		return sliceCmp(a.Items, b.Items)
	case KindMap:
		return mapCmp(a.Pairs, b.Pairs)
	case KindProduct:
		return sliceCmp(a.Elems, b.Elems)
	case KindSum:
		if a.Tag != b.Tag {
			if a.Tag < b.Tag {
				return -1
			}
			return 1
		}
		return Compare(*a.Inner, *b.Inner)
	default:
		return 0
	}
}

func boolCmp(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func int64Cmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func uint64Cmp(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func f32Cmp(a, b float32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func f64Cmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// signedFromLE widens a little-endian two's-complement byte slice (width
// ≤ 8) to int64, sign-extending from the slice's own width.
func signedFromLE(b []byte) int64 {
	var u uint64
	for i := len(b) - 1; i >= 0; i-- {
		u = (u << 8) | uint64(b[i])
	}
	bits := uint(len(b)) * 8
	if bits < 64 && u&(1<<(bits-1)) != 0 {
		u |= ^uint64(0) << bits
	}
	return int64(u)
}

func unsignedFromLE(b []byte) uint64 {
	var u uint64
	for i := len(b) - 1; i >= 0; i-- {
		u = (u << 8) | uint64(b[i])
	}
	return u
}

// wideCmp compares i128/i256/u128/u256 byte slices directly without
// widening to a machine int: reverse to big-endian order and, for signed
// kinds, flip the sign bit so big-endian unsigned comparison of the
// flipped bytes agrees with signed order.
func wideCmp(k Kind, a, b []byte) int {
	signed := k == KindI128 || k == KindI256
	return bytes.Compare(bigEndianSignFlipped(a, signed), bigEndianSignFlipped(b, signed))
}

func bigEndianSignFlipped(le []byte, signed bool) []byte {
	n := len(le)
	be := make([]byte, n)
	for i := 0; i < n; i++ {
		be[i] = le[n-1-i]
	}
	if signed && n > 0 {
		be[0] ^= 0x80
	}
	return be
}

func sliceCmp(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return int64Cmp(int64(len(a)), int64(len(b)))
}

func mapCmp(a, b []Pair) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i].Key, b[i].Key); c != 0 {
			return c
		}
		if c := Compare(a[i].Val, b[i].Val); c != 0 {
			return c
		}
	}
	return int64Cmp(int64(len(a)), int64(len(b)))
}
