package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vramfs/zram/common/digest"
)

func TestMemAllocFreeRoundtrip(t *testing.T) {
	p := NewMem(0)
	h, err := p.Alloc(128)
	require.NoError(t, err)
	require.True(t, h.Valid())

	mapped, err := p.MapWO(h)
	require.NoError(t, err)
	copy(mapped, []byte("hello"))
	p.Unmap(h, mapped)

	mapped, err = p.MapRO(h)
	require.NoError(t, err)
	require.Equal(t, "hello", string(mapped[:5]))
	p.Unmap(h, mapped)

	require.Equal(t, int64(1), p.TotalPages())
	p.Free(h)
	require.Equal(t, int64(0), p.TotalPages())
}

func TestMemOOM(t *testing.T) {
	p := NewMem(100)
	_, err := p.Alloc(50)
	require.NoError(t, err)
	_, err = p.Alloc(60)
	require.ErrorIs(t, err, ErrOOM)
}

func TestEntryRefcounting(t *testing.T) {
	p := NewMem(0)
	h, err := p.Alloc(10)
	require.NoError(t, err)

	e := NewDedupEntry(h, 10, digest.Of([]byte("x")))
	require.Equal(t, int32(1), e.RefCount())

	e.Ref()
	require.Equal(t, int32(2), e.RefCount())

	require.False(t, e.Unref())
	require.Equal(t, int32(1), e.RefCount())
	require.True(t, e.Unref())
}

func TestUnrefUnderflowPanics(t *testing.T) {
	e := NewEntry(Handle{}, 0)
	e.Unref()
	require.Panics(t, func() { e.Unref() })
}
