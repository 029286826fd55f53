// Package backing implements the BackingStore collaborator: the block-index bitmap over
// an external device, its allocator, and the async/sync read paths a writeback batch or
// a WB-slot read falls through to.
package backing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/vramfs/zram/common/errgroup"
)

// Store is the backing device collaborator. It owns the bitmap, the page-addressable
// Dev, and the counters described in §3.3. It does not know about slots; callers
// translate slot payload indices to backing block numbers.
type Store struct {
	dev      Dev
	bitmap   *bitmap
	pageSize int

	readers *errgroup.Group // bounded worker pool for the sync-read-without-recursion path

	bdCount  atomic.Int64
	bdReads  atomic.Int64
	bdWrites atomic.Int64

	wbMu          sync.Mutex
	wbLimit       int64
	wbLimitEnable bool
}

// Open wraps dev as a Store with nrBlocks addressable backing blocks (block 0 reserved).
func Open(dev Dev, nrBlocks int64, pageSize int) *Store {
	g := &errgroup.Group{}
	g.SetLimit(8) // bounded pool for the sync-read trampoline, mirrors a handful of block-layer worker threads
	s := &Store{
		dev:      dev,
		bitmap:   newBitmap(nrBlocks),
		pageSize: pageSize,
		readers:  g,
	}
	s.bdCount.Store(1) // sentinel block counts as "used" from the start
	return s
}

func (s *Store) Close() error {
	return s.dev.Close()
}

// AllocBlock reserves the first free backing block and returns its index, or ok=false if
// the device is full.
func (s *Store) AllocBlock() (block int64, ok bool) {
	b, ok := s.bitmap.Alloc()
	if ok {
		s.bdCount.Add(1)
	}
	return b, ok
}

// FreeBlock releases a previously allocated block.
func (s *Store) FreeBlock(block int64) {
	s.bitmap.Free(block)
	s.bdCount.Add(-1)
}

// ReadSync reads backing block into dst, blocking the caller. Because the logical page
// size and the backing device's natural block size coincide in this design, the
// synchronous path still routes through the bounded worker pool rather than calling
// ReadBlock inline: this avoids ever recursing into the same request machinery that the
// async completion path uses, per the sync-read workaround in the design.
func (s *Store) ReadSync(ctx context.Context, block int64, dst []byte) error {
	errCh := make(chan error, 1)
	s.readers.Go(func() error {
		errCh <- s.readBlockWithRetry(ctx, block, dst)
		return nil
	})
	select {
	case err := <-errCh:
		if err == nil {
			s.bdReads.Add(1)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readBlockWithRetry retries a handful of times on a transient backing read failure
// (e.g. the device momentarily busy), mirroring how other blocking calls out to external
// storage in this codebase are wrapped.
func (s *Store) readBlockWithRetry(ctx context.Context, block int64, dst []byte) error {
	return retry.Do(
		func() error { return s.dev.ReadBlock(block, dst) },
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(10*time.Millisecond),
	)
}

// ReadAsync reads backing block into dst and invokes done with the result once complete,
// chaining into whatever parent completion the caller wants to drive. The terminator
// (unmap/complete the page) is the caller's done callback.
func (s *Store) ReadAsync(block int64, dst []byte, done func(error)) {
	s.readers.Go(func() error {
		err := s.dev.ReadBlock(block, dst)
		if err == nil {
			s.bdReads.Add(1)
		}
		done(err)
		return nil
	})
}

// WriteBatch submits one contiguous run of pages starting at startBlock with WRITE|SYNC
// semantics: it blocks until the whole batch has landed or failed.
func (s *Store) WriteBatch(startBlock int64, pages [][]byte) error {
	if len(pages) == 0 {
		return nil
	}
	if err := s.dev.WriteBlocks(startBlock, pages); err != nil {
		return fmt.Errorf("backing: write batch at %d (%d pages): %w", startBlock, len(pages), err)
	}
	s.bdWrites.Add(int64(len(pages)))
	return nil
}

// SetWriteLimit configures the write budget in pages and whether it's enforced.
func (s *Store) SetWriteLimit(limit int64, enable bool) {
	s.wbMu.Lock()
	defer s.wbMu.Unlock()
	s.wbLimit = limit
	s.wbLimitEnable = enable
}

func (s *Store) WriteLimit() (limit int64, enable bool) {
	s.wbMu.Lock()
	defer s.wbMu.Unlock()
	return s.wbLimit, s.wbLimitEnable
}

// DebitWriteLimit subtracts n pages from the remaining write budget, never going below
// zero. It is a no-op when the budget isn't enabled.
func (s *Store) DebitWriteLimit(n int64) {
	s.wbMu.Lock()
	defer s.wbMu.Unlock()
	if !s.wbLimitEnable {
		return
	}
	s.wbLimit -= n
	if s.wbLimit < 0 {
		s.wbLimit = 0
	}
}

// RemainingWriteBudget reports how many more pages writeback may write this invocation.
// It returns (0, false) when the budget is enabled and exhausted; ok is always true when
// the budget is disabled.
func (s *Store) RemainingWriteBudget() (remaining int64, ok bool) {
	s.wbMu.Lock()
	defer s.wbMu.Unlock()
	if !s.wbLimitEnable {
		return 0, true
	}
	return s.wbLimit, s.wbLimit > 0
}

// Stats returns the bd_stat counter tuple: block count, reads, writes.
func (s *Store) Stats() (count, reads, writes int64) {
	return s.bdCount.Load(), s.bdReads.Load(), s.bdWrites.Load()
}

func (s *Store) PageSize() int { return s.pageSize }
