package backing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapAllocSkipsSentinel(t *testing.T) {
	b := newBitmap(4)
	require.True(t, b.Test(0))

	i1, ok := b.Alloc()
	require.True(t, ok)
	require.Equal(t, int64(1), i1)

	i2, ok := b.Alloc()
	require.True(t, ok)
	require.Equal(t, int64(2), i2)
}

func TestBitmapFullReturnsFalse(t *testing.T) {
	b := newBitmap(2) // only block 1 is available past the sentinel
	_, ok := b.Alloc()
	require.True(t, ok)
	_, ok = b.Alloc()
	require.False(t, ok)
}

func TestBitmapFreeThenRealloc(t *testing.T) {
	b := newBitmap(2)
	i, _ := b.Alloc()
	b.Free(i)
	require.False(t, b.Test(i))
	i2, ok := b.Alloc()
	require.True(t, ok)
	require.Equal(t, i, i2)
}

func TestBitmapDoubleFreePanics(t *testing.T) {
	b := newBitmap(4)
	i, _ := b.Alloc()
	b.Free(i)
	require.Panics(t, func() { b.Free(i) })
}
