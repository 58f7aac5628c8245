package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(2, 1024, 8)

	c1, err := p.Acquire(101)
	require.NoError(t, err)
	c2, err := p.Acquire(102)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Idx, c2.Idx)

	_, err = p.Acquire(103)
	assert.Error(t, err, "pool at capacity must reject a third acquire")

	p.Release(c1.Idx)
	c3, err := p.Acquire(104)
	require.NoError(t, err)
	assert.Equal(t, c1.Idx, c3.Idx, "released index should be reused")
}

func TestPoolStats(t *testing.T) {
	p := NewPool(4, 1024, 8)
	c1, _ := p.Acquire(1)
	_, _ = p.Acquire(2)
	p.Release(c1.Idx)

	st := p.Stats()
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, 1, st.InUse)
	assert.EqualValues(t, 2, st.Opened)
	assert.EqualValues(t, 1, st.Closed)
}

func TestPoolGetOutOfRange(t *testing.T) {
	p := NewPool(2, 1024, 8)
	assert.Nil(t, p.Get(-1))
	assert.Nil(t, p.Get(5))
}

func TestPoolEachVisitsOccupiedSlotsOnly(t *testing.T) {
	p := NewPool(3, 1024, 8)
	c1, _ := p.Acquire(1)
	_, _ = p.Acquire(2)
	p.Release(c1.Idx)

	var visited []int32
	p.Each(func(c *Conn) { visited = append(visited, c.Idx) })
	assert.Len(t, visited, 1)
}
