package backing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// memDev is an in-memory Dev stand-in for tests that don't want to touch a real file.
type memDev struct {
	pageSize int
	blocks   map[int64][]byte
	failRead bool
	reads    int
}

func newMemDev(pageSize int) *memDev {
	return &memDev{pageSize: pageSize, blocks: make(map[int64][]byte)}
}

func (d *memDev) ReadBlock(block int64, dst []byte) error {
	d.reads++
	if d.failRead {
		return errFakeIO
	}
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

func (d *memDev) WriteBlocks(start int64, pages [][]byte) error {
	for i, p := range pages {
		cp := make([]byte, len(p))
		copy(cp, p)
		d.blocks[start+int64(i)] = cp
	}
	return nil
}

func (d *memDev) Close() error { return nil }

type fakeIOError struct{}

func (fakeIOError) Error() string { return "fake io error" }

var errFakeIO = fakeIOError{}

func TestStoreWriteThenReadBatch(t *testing.T) {
	dev := newMemDev(16)
	s := Open(dev, 8, 16)

	block, ok := s.AllocBlock()
	require.True(t, ok)

	page := make([]byte, 16)
	for i := range page {
		page[i] = byte(i)
	}
	require.NoError(t, s.WriteBatch(block, [][]byte{page}))

	dst := make([]byte, 16)
	require.NoError(t, s.ReadSync(context.Background(), block, dst))
	require.Equal(t, page, dst)

	count, _, writes := s.Stats()
	require.Equal(t, int64(2), count) // sentinel + one allocated block
	require.Equal(t, int64(1), writes)
}

func TestStoreWriteLimitBudget(t *testing.T) {
	dev := newMemDev(16)
	s := Open(dev, 8, 16)
	s.SetWriteLimit(3, true)

	remaining, ok := s.RemainingWriteBudget()
	require.True(t, ok)
	require.Equal(t, int64(3), remaining)

	s.DebitWriteLimit(2)
	remaining, ok = s.RemainingWriteBudget()
	require.True(t, ok)
	require.Equal(t, int64(1), remaining)

	s.DebitWriteLimit(5)
	remaining, ok = s.RemainingWriteBudget()
	require.False(t, ok)
	require.Equal(t, int64(0), remaining)
}

func TestStoreReadSyncRetriesThenFails(t *testing.T) {
	dev := newMemDev(16)
	dev.failRead = true
	s := Open(dev, 8, 16)

	dst := make([]byte, 16)
	err := s.ReadSync(context.Background(), 1, dst)
	require.Error(t, err)
	require.Equal(t, 3, dev.reads) // readBlockWithRetry makes 3 attempts
}
