// Package sats implements BSATN — Binary Serialization for Algebraic Types,
// Native — the little-endian, tag-based wire format used throughout the
// storage core for row bytes, commit-log payloads, and snapshot manifests.
package sats

import "fmt"

// Kind identifies the shape of an AlgebraicType.
type Kind uint8

const (
	KindBool Kind = iota
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindI128
	KindU128
	KindI256
	KindU256
	KindF32
	KindF64
	KindString
	KindBytes
	KindArray
	KindMap
	KindProduct
	KindSum
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindI8:
		return "i8"
	case KindU8:
		return "u8"
	case KindI16:
		return "i16"
	case KindU16:
		return "u16"
	case KindI32:
		return "i32"
	case KindU32:
		return "u32"
	case KindI64:
		return "i64"
	case KindU64:
		return "u64"
	case KindI128:
		return "i128"
	case KindU128:
		return "u128"
	case KindI256:
		return "i256"
	case KindU256:
		return "u256"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindProduct:
		return "product"
	case KindSum:
		return "sum"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsPrimitive reports whether the kind is a fixed-width scalar (bool, integer,
// or float) — the classification spec.md §3 calls "primitive".
func (k Kind) IsPrimitive() bool {
	return k <= KindF64
}

// IsVarLen reports whether values of this kind do not fit in a fixed-width
// slot and need a var-len ref into a page's granule chain (spec.md §3).
func (k Kind) IsVarLen() bool {
	switch k {
	case KindString, KindBytes, KindArray, KindMap:
		return true
	default:
		return false
	}
}

// Width returns the fixed encoded byte width of a primitive kind. It panics
// for non-primitive kinds; callers must check IsPrimitive first.
func (k Kind) Width() int {
	switch k {
	case KindBool, KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindI64, KindU64, KindF64:
		return 8
	case KindI128, KindU128:
		return 16
	case KindI256, KindU256:
		return 32
	default:
		panic(fmt.Sprintf("sats: Width called on non-primitive kind %s", k))
	}
}

// Field is one element of a Product (a column) or one variant of a Sum.
type Field struct {
	Name string
	Type *Type
}

// Type is an AlgebraicType: the recursive description of a value's shape.
// Products are columns-in-order; Sums are a tagged union with the payload
// type selected by Fields[tag].Type.
type Type struct {
	Kind Kind

	// Elem is the element type for KindArray.
	Elem *Type
	// Key/Val are the key and value types for KindMap.
	Key *Type
	Val *Type
	// Fields holds product columns (KindProduct) or sum variants (KindSum),
	// in declared order.
	Fields []Field
}

func Bool() *Type   { return &Type{Kind: KindBool} }
func I8() *Type     { return &Type{Kind: KindI8} }
func U8() *Type     { return &Type{Kind: KindU8} }
func I16() *Type    { return &Type{Kind: KindI16} }
func U16() *Type    { return &Type{Kind: KindU16} }
func I32() *Type    { return &Type{Kind: KindI32} }
func U32() *Type    { return &Type{Kind: KindU32} }
func I64() *Type    { return &Type{Kind: KindI64} }
func U64() *Type    { return &Type{Kind: KindU64} }
func I128() *Type   { return &Type{Kind: KindI128} }
func U128() *Type   { return &Type{Kind: KindU128} }
func I256() *Type   { return &Type{Kind: KindI256} }
func U256() *Type   { return &Type{Kind: KindU256} }
func F32() *Type    { return &Type{Kind: KindF32} }
func F64() *Type    { return &Type{Kind: KindF64} }
func String() *Type { return &Type{Kind: KindString} }
func Bytes() *Type  { return &Type{Kind: KindBytes} }

func Array(elem *Type) *Type       { return &Type{Kind: KindArray, Elem: elem} }
func Map(key, val *Type) *Type     { return &Type{Kind: KindMap, Key: key, Val: val} }
func Product(fields ...Field) *Type { return &Type{Kind: KindProduct, Fields: fields} }
func Sum(variants ...Field) *Type  { return &Type{Kind: KindSum, Fields: variants} }

// NumVariants returns the number of sum variants, used to validate tag bytes
// on decode.
func (t *Type) NumVariants() int { return len(t.Fields) }
