package sats

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func rowType() *Type {
	return Product(
		Field{Name: "id", Type: U64()},
		Field{Name: "name", Type: String()},
		Field{Name: "status", Type: Sum(
			Field{Name: "active", Type: Product()},
			Field{Name: "retired", Type: U32()},
		)},
		Field{Name: "tags", Type: Array(String())},
	)
}

func TestRoundTrip(t *testing.T) {
	typ := rowType()
	cases := []Value{
		ProductValue(U64Value(7), StringValue("alice"), SumValue(0, ProductValue()), ArrayValue(StringValue("a"), StringValue("b"))),
		ProductValue(U64Value(0), StringValue(""), SumValue(1, U32Value(42)), ArrayValue()),
	}
	for i, v := range cases {
		enc, err := Encode(v, typ)
		require.NoError(t, err)
		back, err := Decode(enc, typ)
		require.NoErrorf(t, err, "case %d", i)
		require.True(t, Equal(v, back), "case %d: round trip mismatch", i)

		reenc, err := Encode(back, typ)
		require.NoError(t, err)
		require.Equal(t, enc, reenc)
	}
}

func TestTruncatedDecodeFailsClosed(t *testing.T) {
	typ := rowType()
	v := ProductValue(U64Value(7), StringValue("alice"), SumValue(0, ProductValue()), ArrayValue())
	enc, err := Encode(v, typ)
	require.NoError(t, err)

	for n := 0; n < len(enc); n++ {
		_, err := Decode(enc[:n], typ)
		require.Error(t, err, "truncation at %d should fail", n)
	}
}

// TestMutatedLengthPrefixFailsClosed corrupts an array/map length prefix to
// an implausibly large value and checks decode fails with a typed error
// instead of attempting a huge allocation.
func TestMutatedLengthPrefixFailsClosed(t *testing.T) {
	arrType := Array(U8())
	enc, err := Encode(ArrayValue(U8Value(1), U8Value(2)), arrType)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(enc[:4], 0xFFFFFFFF)
	_, err = Decode(enc, arrType)
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, ErrKindTruncated, serr.Kind)

	mapType := Map(U8(), U8())
	enc2, err := Encode(MapValue(Pair{Key: U8Value(1), Val: U8Value(2)}), mapType)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(enc2[:4], 0xFFFFFFFF)
	_, err = Decode(enc2, mapType)
	require.Error(t, err)
	require.ErrorAs(t, err, &serr)
	require.Equal(t, ErrKindTruncated, serr.Kind)
}

func TestInvalidSumTag(t *testing.T) {
	typ := Sum(Field{Name: "a", Type: U8()}, Field{Name: "b", Type: U8()})
	enc := []byte{5, 1}
	_, err := Decode(enc, typ)
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, ErrKindInvalidTag, serr.Kind)
}

func TestInvalidUTF8(t *testing.T) {
	typ := String()
	enc := []byte{2, 0, 0, 0, 0xff, 0xfe}
	_, err := Decode(enc, typ)
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, ErrKindInvalidUTF8, serr.Kind)
}

func TestTrailingBytes(t *testing.T) {
	typ := U8()
	_, err := Decode([]byte{1, 2}, typ)
	require.Error(t, err)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, ErrKindTrailingBytes, serr.Kind)
}

func TestEqualBytes(t *testing.T) {
	typ := rowType()
	v := ProductValue(U64Value(7), StringValue("alice"), SumValue(0, ProductValue()), ArrayValue())
	enc, err := Encode(v, typ)
	require.NoError(t, err)

	ok, err := EqualBytes(enc, v, typ)
	require.NoError(t, err)
	require.True(t, ok)

	other := ProductValue(U64Value(8), StringValue("alice"), SumValue(0, ProductValue()), ArrayValue())
	ok, err = EqualBytes(enc, other, typ)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapCanonicalOrdering(t *testing.T) {
	typ := Map(String(), U32())
	v := MapValue(
		Pair{Key: StringValue("b"), Val: U32Value(2)},
		Pair{Key: StringValue("a"), Val: U32Value(1)},
	)
	enc, err := Encode(v, typ)
	require.NoError(t, err)

	v2 := MapValue(
		Pair{Key: StringValue("a"), Val: U32Value(1)},
		Pair{Key: StringValue("b"), Val: U32Value(2)},
	)
	enc2, err := Encode(v2, typ)
	require.NoError(t, err)
	require.Equal(t, enc, enc2)
}
