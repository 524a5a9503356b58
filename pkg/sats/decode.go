package sats

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Decode deserializes BSATN bytes as a value of type t. It requires the
// entire slice to be consumed; leftover bytes are a distinct error
// (ErrKindTrailingBytes) per spec.md §4.1.
func Decode(data []byte, t *Type) (Value, error) {
	v, n, err := decodeFrom(data, t, "")
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, newErr(ErrKindTrailingBytes, "", "%d trailing byte(s) after decoding %s", len(data)-n, t.Kind)
	}
	return v, nil
}

// DecodePrefix decodes a single value of type t starting at data[0] and
// returns the number of bytes consumed, without requiring the rest of data
// to be empty. Callers that store a value inside a larger fixed-width slot
// (e.g. pkg/page, sizing a sum column's slot to its widest variant) use
// this to recover the value's true encoded length, distinct from the
// slot's capacity.
func DecodePrefix(data []byte, t *Type) (Value, int, error) {
	return decodeFrom(data, t, "")
}

// decodeFrom decodes a single value starting at data[0] and returns the
// number of bytes consumed, allowing callers (e.g. product/array decoding)
// to chain reads without slicing copies for every element.
func decodeFrom(data []byte, t *Type, path string) (Value, int, error) {
	switch t.Kind {
	case KindBool:
		if len(data) < 1 {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need 1 byte for bool, have %d", len(data))
		}
		switch data[0] {
		case 0:
			return BoolValue(false), 1, nil
		case 1:
			return BoolValue(true), 1, nil
		default:
			return Value{}, 0, newErr(ErrKindInvalidTag, path, "invalid bool byte %d", data[0])
		}
	case KindI8, KindU8, KindI16, KindU16, KindI32, KindU32, KindI64, KindU64, KindI128, KindU128, KindI256, KindU256:
		w := t.Kind.Width()
		if len(data) < w {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need %d bytes for %s, have %d", w, t.Kind, len(data))
		}
		return intValue(t.Kind, data[:w]), w, nil
	case KindF32:
		if len(data) < 4 {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need 4 bytes for f32, have %d", len(data))
		}
		bits := binary.LittleEndian.Uint32(data[:4])
		return F32Value(math.Float32frombits(bits)), 4, nil
	case KindF64:
		if len(data) < 8 {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need 8 bytes for f64, have %d", len(data))
		}
		bits := binary.LittleEndian.Uint64(data[:8])
		return F64Value(math.Float64frombits(bits)), 8, nil
	case KindString:
		n, consumed, err := readLenPrefix(data, path)
		if err != nil {
			return Value{}, 0, err
		}
		if len(data) < consumed+n {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need %d string bytes, have %d", n, len(data)-consumed)
		}
		s := data[consumed : consumed+n]
		if !utf8.Valid(s) {
			return Value{}, 0, newErr(ErrKindInvalidUTF8, path, "string payload is not valid UTF-8")
		}
		return StringValue(string(s)), consumed + n, nil
	case KindBytes:
		n, consumed, err := readLenPrefix(data, path)
		if err != nil {
			return Value{}, 0, err
		}
		if len(data) < consumed+n {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need %d byte array bytes, have %d", n, len(data)-consumed)
		}
		b := make([]byte, n)
		copy(b, data[consumed:consumed+n])
		return BytesValue(b), consumed + n, nil
	case KindArray:
		n, consumed, err := readLenPrefix(data, path)
		if err != nil {
			return Value{}, 0, err
		}
		// Every kind's encoding is at least 1 byte, so an array of n
		// elements needs at least n bytes; bound n against what's actually
		// left before trusting it as a preallocation size.
		if n > len(data)-consumed {
			return Value{}, 0, newErr(ErrKindTruncated, path, "array claims %d element(s) but only %d byte(s) remain", n, len(data)-consumed)
		}
		items := make([]Value, 0, n)
		off := consumed
		for i := 0; i < n; i++ {
			item, used, err := decodeFrom(data[off:], t.Elem, fmt_path(path, "items", i))
			if err != nil {
				return Value{}, 0, err
			}
			items = append(items, item)
			off += used
		}
		return ArrayValue(items...), off, nil
	case KindMap:
		n, consumed, err := readLenPrefix(data, path)
		if err != nil {
			return Value{}, 0, err
		}
		// Each pair needs at least 2 bytes (1 for the key, 1 for the
		// value), the same defense-in-depth readLenPrefix's callers apply
		// above for strings, byte arrays, and array elements.
		if n > (len(data)-consumed)/2 {
			return Value{}, 0, newErr(ErrKindTruncated, path, "map claims %d pair(s) but only %d byte(s) remain", n, len(data)-consumed)
		}
		pairs := make([]Pair, 0, n)
		off := consumed
		for i := 0; i < n; i++ {
			k, used, err := decodeFrom(data[off:], t.Key, fmt_path(path, "keys", i))
			if err != nil {
				return Value{}, 0, err
			}
			off += used
			val, used, err := decodeFrom(data[off:], t.Val, fmt_path(path, "vals", i))
			if err != nil {
				return Value{}, 0, err
			}
			off += used
			pairs = append(pairs, Pair{Key: k, Val: val})
		}
		return MapValue(pairs...), off, nil
	case KindProduct:
		elems := make([]Value, len(t.Fields))
		off := 0
		for i, f := range t.Fields {
			elem, used, err := decodeFrom(data[off:], f.Type, fmt_path(path, "fields", i))
			if err != nil {
				return Value{}, 0, err
			}
			elems[i] = elem
			off += used
		}
		return ProductValue(elems...), off, nil
	case KindSum:
		if len(data) < 1 {
			return Value{}, 0, newErr(ErrKindTruncated, path, "need 1 byte for sum tag, have 0")
		}
		tag := data[0]
		if int(tag) >= len(t.Fields) {
			return Value{}, 0, newErr(ErrKindInvalidTag, path, "tag %d out of range for %d variants", tag, len(t.Fields))
		}
		inner, used, err := decodeFrom(data[1:], t.Fields[tag].Type, fmt_path(path, "variant", int(tag)))
		if err != nil {
			return Value{}, 0, err
		}
		return SumValue(tag, inner), 1 + used, nil
	default:
		return Value{}, 0, newErr(ErrKindTypeMismatch, path, "unknown kind %d", t.Kind)
	}
}

func readLenPrefix(data []byte, path string) (n int, consumed int, err error) {
	if len(data) < 4 {
		return 0, 0, newErr(ErrKindTruncated, path, "need 4 bytes for length prefix, have %d", len(data))
	}
	return int(binary.LittleEndian.Uint32(data[:4])), 4, nil
}
