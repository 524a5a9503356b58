package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/veltadb/pkg/sats"
)

func TestComputeLayoutClassification(t *testing.T) {
	rowType := sats.Product(
		sats.Field{Name: "id", Type: sats.U64()},
		sats.Field{Name: "name", Type: sats.String()},
		sats.Field{Name: "status", Type: sats.Sum(
			sats.Field{Name: "active", Type: sats.Product()},
			sats.Field{Name: "retired", Type: sats.U32()},
		)},
	)
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	require.False(t, layout.Columns[0].VarLen)
	require.True(t, layout.Columns[1].VarLen)
	require.False(t, layout.Columns[2].VarLen)
	require.Equal(t, 1+4, layout.Columns[2].Width) // tag + widest variant (u32)
}

func TestNestedVarLenPromotesWholeSubtree(t *testing.T) {
	nested := sats.Product(
		sats.Field{Name: "a", Type: sats.U32()},
		sats.Field{Name: "b", Type: sats.String()},
	)
	rowType := sats.Product(sats.Field{Name: "col", Type: nested})
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	require.True(t, layout.Columns[0].VarLen)
	require.Equal(t, VarLenRefWidth, layout.Columns[0].Width)
}

func TestSumColumnWithShortVariantRoundTrips(t *testing.T) {
	rowType := sats.Product(
		sats.Field{Name: "status", Type: sats.Sum(
			sats.Field{Name: "active", Type: sats.Product()},
			sats.Field{Name: "retired", Type: sats.U32()},
		)},
	)
	layout, err := ComputeLayout(rowType)
	require.NoError(t, err)
	pg := New(layout.FixedRowSize)
	blobs := newMemBlobStore()

	shortVariant := sats.ProductValue(sats.SumValue(0, sats.ProductValue()))
	slot, err := pg.Insert(shortVariant, layout, blobs)
	require.NoError(t, err)
	got, err := pg.ReadValue(slot, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(shortVariant, got))

	require.NoError(t, pg.Delete(slot, layout, blobs))
	longVariant := sats.ProductValue(sats.SumValue(1, sats.U32Value(99)))
	slot2, err := pg.Insert(longVariant, layout, blobs)
	require.NoError(t, err)
	got2, err := pg.ReadValue(slot2, layout, blobs)
	require.NoError(t, err)
	require.True(t, sats.Equal(longVariant, got2))
}
