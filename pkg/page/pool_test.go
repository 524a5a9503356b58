package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolReuseCounters(t *testing.T) {
	pool := NewPool(64, 2)
	stats := pool.Stats()
	require.Equal(t, uint64(0), stats.AllocCount)

	p1 := pool.Get()
	require.Equal(t, uint64(1), pool.Stats().AllocCount)

	pool.Put(p1)
	require.Equal(t, uint64(1), pool.Stats().ReturnCount)
	require.Equal(t, 1, pool.Stats().FreeCount)

	p2 := pool.Get()
	require.Equal(t, uint64(1), pool.Stats().ReuseCount)
	require.Same(t, p1, p2)
}

func TestPoolDropsBeyondCapacity(t *testing.T) {
	pool := NewPool(64, 1)
	a := pool.Get()
	b := pool.Get()
	pool.Put(a)
	pool.Put(b)

	stats := pool.Stats()
	require.Equal(t, 1, stats.FreeCount)
	require.Equal(t, uint64(1), stats.ReturnCount)
	require.Equal(t, uint64(1), stats.DropCount)
}

func TestPoolPutResetsPage(t *testing.T) {
	rowType := 8
	pool := NewPool(rowType, 4)
	pg := pool.Get()
	slot := pg.allocSlot()
	pg.setPresenceBit(slot, true)
	pg.setRowCount(1)
	require.Equal(t, 1, pg.RowCount())

	pool.Put(pg)
	require.Equal(t, 0, pg.RowCount())
}
