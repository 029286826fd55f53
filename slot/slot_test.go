package slot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizePreservesFlags(t *testing.T) {
	var s Slot
	s.Lock()
	s.SetFlag(Huge)
	s.SetFlag(CompressLow)
	s.SetSize(4096)
	require.Equal(t, 4096, s.Size())
	require.True(t, s.TestFlag(Huge))
	require.True(t, s.TestFlag(CompressLow))

	s.SetSize(128)
	require.Equal(t, 128, s.Size())
	require.True(t, s.TestFlag(Huge))
	require.True(t, s.TestFlag(CompressLow))
	s.Unlock()
}

func TestIdleCountSaturates(t *testing.T) {
	var s Slot
	s.Lock()
	for i := 0; i < int(IdleMax)+10; i++ {
		s.IncIdleCount()
	}
	require.Equal(t, uint32(IdleMax), s.IdleCount())
	s.Unlock()
}

func TestClearIdleCountKeepsFlag(t *testing.T) {
	var s Slot
	s.Lock()
	s.MarkIdle()
	require.True(t, s.TestFlag(Idle))
	require.Equal(t, uint32(1), s.IdleCount())

	s.ClearIdleCount()
	require.True(t, s.TestFlag(Idle))
	require.Equal(t, uint32(0), s.IdleCount())
	s.Unlock()
}

func TestAccessedClearsIdle(t *testing.T) {
	var s Slot
	s.Lock()
	s.MarkIdle()
	s.Accessed(42)
	require.False(t, s.TestFlag(Idle))
	require.Equal(t, uint32(0), s.IdleCount())
	require.Equal(t, int64(42), s.AccessTime())
	s.Unlock()
}

func TestAllocated(t *testing.T) {
	var s Slot
	s.Lock()
	require.False(t, s.Allocated())

	s.SetSize(100)
	require.True(t, s.Allocated())
	s.SetSize(0)
	require.False(t, s.Allocated())

	s.SetFlag(Same)
	require.True(t, s.Allocated())
	s.ClearFlag(Same)

	s.SetFlag(WB)
	require.True(t, s.Allocated())
	s.Unlock()
}

func TestTryLockContention(t *testing.T) {
	var s Slot
	s.Lock()
	require.False(t, s.TryLock())
	s.Unlock()
	require.True(t, s.TryLock())
	s.Unlock()
}

func TestResetPreservesLockBit(t *testing.T) {
	var s Slot
	s.Lock()
	s.SetFlag(Huge)
	s.SetSize(10)
	s.Reset()
	require.Equal(t, 0, s.Size())
	require.False(t, s.TestFlag(Huge))
	require.False(t, s.Allocated())
	// still locked: a second Lock from the same goroutine would spin forever, so just
	// confirm TryLock from here observes it held.
	require.False(t, s.TryLock())
	s.Unlock()
}
