package sats

// Pair is one key/value entry of a map-typed Value.
type Pair struct {
	Key Value
	Val Value
}

// Value is an AlgebraicValue: the in-memory counterpart of Type. Only the
// fields relevant to Kind are populated; the rest are zero.
type Value struct {
	Kind Kind

	Bool bool
	// Int holds the little-endian two's-complement (or unsigned) bytes of
	// any integer kind, always exactly Kind.Width() bytes long. Storing all
	// integer widths uniformly as raw LE bytes lets the codec treat i128,
	// u256, etc. identically to i8/u64 without a dependency on math/big.
	Int []byte

	F32 float32
	F64 float64

	Str   string
	Bytes []byte

	Items []Value // KindArray
	Pairs []Pair  // KindMap

	Elems []Value // KindProduct, in column order

	Tag   uint8 // KindSum
	Inner *Value
}

func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func intValue(k Kind, bytes []byte) Value {
	v := make([]byte, k.Width())
	copy(v, bytes)
	return Value{Kind: k, Int: v}
}

func leBytes(u uint64, width int) []byte {
	b := make([]byte, width)
	for i := 0; i < width && i < 8; i++ {
		b[i] = byte(u >> (8 * uint(i)))
	}
	return b
}

func U8Value(v uint8) Value   { return intValue(KindU8, leBytes(uint64(v), 1)) }
func I8Value(v int8) Value    { return intValue(KindI8, leBytes(uint64(uint8(v)), 1)) }
func U16Value(v uint16) Value { return intValue(KindU16, leBytes(uint64(v), 2)) }
func I16Value(v int16) Value  { return intValue(KindI16, leBytes(uint64(uint16(v)), 2)) }
func U32Value(v uint32) Value { return intValue(KindU32, leBytes(uint64(v), 4)) }
func I32Value(v int32) Value  { return intValue(KindI32, leBytes(uint64(uint32(v)), 4)) }
func U64Value(v uint64) Value { return intValue(KindU64, leBytes(v, 8)) }
func I64Value(v int64) Value  { return intValue(KindI64, leBytes(uint64(v), 8)) }

// WideValue builds an i128/u128/i256/u256 value directly from its
// little-endian byte representation (caller-supplied, e.g. from a bigint
// library); bytes are copied and zero-padded/truncated to the kind's width.
func WideValue(k Kind, littleEndian []byte) Value { return intValue(k, littleEndian) }

func F32Value(v float32) Value { return Value{Kind: KindF32, F32: v} }
func F64Value(v float64) Value { return Value{Kind: KindF64, F64: v} }

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }

func ArrayValue(items ...Value) Value { return Value{Kind: KindArray, Items: items} }
func MapValue(pairs ...Pair) Value    { return Value{Kind: KindMap, Pairs: pairs} }
func ProductValue(elems ...Value) Value { return Value{Kind: KindProduct, Elems: elems} }

func SumValue(tag uint8, inner Value) Value {
	return Value{Kind: KindSum, Tag: tag, Inner: &inner}
}

// AsUint64 widens the little-endian integer bytes (width ≤ 8) to a uint64.
// For i128/i256/u128/u256 callers should use Int directly.
func (v Value) AsUint64() uint64 {
	var u uint64
	for i := len(v.Int) - 1; i >= 0; i-- {
		u = (u << 8) | uint64(v.Int[i])
	}
	return u
}
