package writeback

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vramfs/zram/backing"
	"github.com/vramfs/zram/codec"
	"github.com/vramfs/zram/dedup"
	"github.com/vramfs/zram/ioengine"
	"github.com/vramfs/zram/pool"
	"github.com/vramfs/zram/slot"
)

const pageSize = 4096

// fakeDev is an in-memory backing.Dev for policy tests; it can be told to fail every
// write so reconciliation-on-failure paths are exercised.
type fakeDev struct {
	pageSize  int
	blocks    map[int64][]byte
	failWrite bool
}

func newFakeDev() *fakeDev { return &fakeDev{pageSize: pageSize, blocks: make(map[int64][]byte)} }

func (d *fakeDev) ReadBlock(block int64, dst []byte) error {
	b, ok := d.blocks[block]
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	copy(dst, b)
	return nil
}

func (d *fakeDev) WriteBlocks(start int64, pages [][]byte) error {
	if d.failWrite {
		return errFakeWrite
	}
	for i, p := range pages {
		cp := make([]byte, len(p))
		copy(cp, p)
		d.blocks[start+int64(i)] = cp
	}
	return nil
}

func (d *fakeDev) Close() error { return nil }

type fakeWriteError struct{}

func (fakeWriteError) Error() string { return "fake write error" }

var errFakeWrite = fakeWriteError{}

// setup builds a table/pool/codec/dedup/backing quintet shared by ioengine (to populate
// slots realistically) and a Policy under test, with a low-ratio threshold high enough
// that ordinary compressible pages are flagged CompressLow.
func setup(t *testing.T, nrPages int, nrBlocks int64, dev backing.Dev) (*slot.Table, *ioengine.Engine, *Policy, *backing.Store) {
	table := slot.NewTable(nrPages, pageSize)
	p := pool.NewMem(0)
	c := codec.NewZstd(0)
	d := dedup.New()
	store := backing.Open(dev, nrBlocks, pageSize)

	eng := ioengine.New(table, p, c, d, ioengine.Config{PageSize: pageSize, HugeClassSize: pageSize, LowRatioThreshold: 100})
	eng.SetBacking(store)
	policy := New(table, p, c, d, store, pageSize)
	return table, eng, policy, store
}

func markIdle(t *testing.T, table *slot.Table, idx int, times int) {
	s := table.Slot(idx)
	for i := 0; i < times; i++ {
		s.Lock()
		s.MarkIdle()
		s.Unlock()
	}
}

func TestWritebackIdleModeFlushesEligibleSlot(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, store := setup(t, 2, 8, dev)

	src := bytes.Repeat([]byte("idle candidate payload, compresses fine "), 103)[:pageSize]
	require.NoError(t, eng.Write(&ioengine.Request{Offset: 0, Length: pageSize, Buf: src}))

	s := table.Slot(0)
	s.Lock()
	require.True(t, s.TestFlag(slot.CompressLow))
	s.Unlock()

	markIdle(t, table, 0, 2)

	res, err := policy.Run(context.Background(), Request{Mode: ModeIdle, IdleMin: 2})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.PagesWritten)

	s.Lock()
	require.True(t, s.TestFlag(slot.WB))
	require.False(t, s.TestFlag(slot.UnderWB))
	block := int64(s.Scalar())
	s.Unlock()

	dst := make([]byte, pageSize)
	require.NoError(t, store.ReadSync(context.Background(), block, dst))
	require.True(t, bytes.Equal(src, dst))
}

func TestWritebackIdleModeSkipsBelowThreshold(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, _ := setup(t, 1, 8, dev)

	src := bytes.Repeat([]byte("not idle enough yet "), 205)[:pageSize]
	require.NoError(t, eng.Write(&ioengine.Request{Offset: 0, Length: pageSize, Buf: src}))
	markIdle(t, table, 0, 1)

	res, err := policy.Run(context.Background(), Request{Mode: ModeIdle, IdleMin: 3})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.PagesWritten)

	s := table.Slot(0)
	s.Lock()
	require.False(t, s.TestFlag(slot.WB))
	s.Unlock()
}

func TestWritebackHugeModeBatchesContiguousRun(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, store := setup(t, 3, 8, dev)

	rng := rand.New(rand.NewSource(1))
	pages := make([][]byte, 3)
	for i := range pages {
		buf := make([]byte, pageSize)
		rng.Read(buf)
		pages[i] = buf
		require.NoError(t, eng.Write(&ioengine.Request{Offset: int64(i) * pageSize, Length: pageSize, Buf: buf}))
	}
	for i := 0; i < 3; i++ {
		s := table.Slot(i)
		s.Lock()
		require.True(t, s.TestFlag(slot.Huge))
		s.Unlock()
	}

	res, err := policy.Run(context.Background(), Request{Mode: ModeHuge})
	require.NoError(t, err)
	require.Equal(t, int64(3), res.PagesWritten)

	for i := 0; i < 3; i++ {
		s := table.Slot(i)
		s.Lock()
		require.True(t, s.TestFlag(slot.WB))
		block := int64(s.Scalar())
		s.Unlock()

		dst := make([]byte, pageSize)
		require.NoError(t, store.ReadSync(context.Background(), block, dst))
		require.True(t, bytes.Equal(pages[i], dst))
	}
}

func TestWritebackRespectsMaxBudget(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, _ := setup(t, 3, 8, dev)

	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 3; i++ {
		buf := make([]byte, pageSize)
		rng.Read(buf)
		require.NoError(t, eng.Write(&ioengine.Request{Offset: int64(i) * pageSize, Length: pageSize, Buf: buf}))
	}

	res, err := policy.Run(context.Background(), Request{Mode: ModeHuge, Max: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.PagesWritten)

	written := 0
	for i := 0; i < 3; i++ {
		s := table.Slot(i)
		s.Lock()
		if s.TestFlag(slot.WB) {
			written++
		}
		s.Unlock()
	}
	require.Equal(t, 1, written)
}

func TestWritebackRespectsPersistentWriteLimit(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, store := setup(t, 3, 8, dev)

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 3; i++ {
		buf := make([]byte, pageSize)
		rng.Read(buf)
		require.NoError(t, eng.Write(&ioengine.Request{Offset: int64(i) * pageSize, Length: pageSize, Buf: buf}))
	}

	store.SetWriteLimit(1, true)

	res, err := policy.Run(context.Background(), Request{Mode: ModeHuge})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.PagesWritten)

	written := 0
	for i := 0; i < 3; i++ {
		s := table.Slot(i)
		s.Lock()
		if s.TestFlag(slot.WB) {
			written++
		}
		s.Unlock()
	}
	require.Equal(t, 1, written)

	remaining, ok := store.RemainingWriteBudget()
	require.False(t, ok)
	require.Equal(t, int64(0), remaining)
}

func TestWritebackCancellationStopsCleanly(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, _ := setup(t, 2, 8, dev)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 2; i++ {
		buf := make([]byte, pageSize)
		rng.Read(buf)
		require.NoError(t, eng.Write(&ioengine.Request{Offset: int64(i) * pageSize, Length: pageSize, Buf: buf}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := policy.Run(ctx, Request{Mode: ModeHuge})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.PagesWritten)

	for i := 0; i < 2; i++ {
		s := table.Slot(i)
		s.Lock()
		require.False(t, s.TestFlag(slot.WB))
		s.Unlock()
	}
}

func TestWritebackFailureReconcilesSlots(t *testing.T) {
	dev := newFakeDev()
	table, eng, policy, _ := setup(t, 1, 8, dev)

	rng := rand.New(rand.NewSource(4))
	buf := make([]byte, pageSize)
	rng.Read(buf)
	require.NoError(t, eng.Write(&ioengine.Request{Offset: 0, Length: pageSize, Buf: buf}))

	dev.failWrite = true
	res, err := policy.Run(context.Background(), Request{Mode: ModeHuge})
	require.Error(t, err)
	require.Equal(t, int64(0), res.PagesWritten)

	s := table.Slot(0)
	s.Lock()
	require.False(t, s.TestFlag(slot.WB))
	require.False(t, s.TestFlag(slot.UnderWB))
	require.True(t, s.Allocated())
	s.Unlock()
}
