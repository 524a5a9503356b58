package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/sats"
)

func TestDeserializeRoundTripsThroughPool(t *testing.T) {
	layout, err := ComputeLayout(testRowType())
	require.NoError(t, err)

	src := New(layout.FixedRowSize)
	blobs := newMemBlobStore()
	v := sats.ProductValue(sats.U64Value(42), sats.StringValue("hi"), sats.F64Value(2.5))
	_, err = src.Insert(v, layout, blobs)
	require.NoError(t, err)

	pool := NewPool(layout.FixedRowSize, 4)
	out, err := Deserialize(src.Bytes(), pool)
	require.NoError(t, err)

	require.Equal(t, src.RowCount(), out.RowCount())
	for _, slot := range out.Slots() {
		got, err := out.ReadValue(slot, layout, blobs)
		require.NoError(t, err)
		require.True(t, sats.Equal(v, got))
	}
}

func TestDeserializeRejectsWrongSize(t *testing.T) {
	pool := NewPool(32, 1)
	_, err := Deserialize(make([]byte, 10), pool)
	require.Error(t, err)
}

func TestDeserializeRejectsMismatchedRowSize(t *testing.T) {
	layout, err := ComputeLayout(testRowType())
	require.NoError(t, err)
	src := New(layout.FixedRowSize)

	pool := NewPool(layout.FixedRowSize+8, 1)
	_, err = Deserialize(src.Bytes(), pool)
	require.Error(t, err)
}
