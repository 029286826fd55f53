// Package writeback implements the eviction control-plane operation: selecting slots
// eligible for writeback (huge / idle), batching contiguous backing-block writes, and
// reconciling slot state after each batch completes or fails.
package writeback

import (
	"context"
	"fmt"

	"github.com/vramfs/zram/backing"
	"github.com/vramfs/zram/codec"
	"github.com/vramfs/zram/common"
	"github.com/vramfs/zram/dedup"
	"github.com/vramfs/zram/pool"
	"github.com/vramfs/zram/slot"
)

// Mode selects which slots are eligible for this invocation.
type Mode int

const (
	ModeHuge Mode = iota
	ModeIdle
)

// Request describes one "writeback" control write: huge, or idle with an optional cap
// and minimum idle-count threshold.
type Request struct {
	Mode    Mode
	Max     int64 // 0 = unbounded
	IdleMin uint32
}

// MaxBatchSize is the staging buffer length (MAX_WRITEBACK_SIZE in the design): the
// largest number of pages flushed as a single contiguous bio.
const MaxBatchSize = 32

// Policy runs writeback invocations against a table/pool/codec/backing quartet. It keeps
// no state between invocations; every Run call is self-contained.
type Policy struct {
	table    *slot.Table
	pool     pool.Pool
	codec    codec.Codec
	dedup    dedup.Index
	backing  *backing.Store
	pageSize int
}

func New(table *slot.Table, p pool.Pool, c codec.Codec, d dedup.Index, b *backing.Store, pageSize int) *Policy {
	if d == nil {
		d = dedup.Disabled()
	}
	return &Policy{table: table, pool: p, codec: c, dedup: d, backing: b, pageSize: pageSize}
}

// batchEntry records one staged page pending a backing-block bio.
type batchEntry struct {
	slotIdx int
	page    []byte
}

// Result tallies what one Run accomplished, for the io_stat-style report back to the
// caller.
type Result struct {
	PagesWritten int64
	BytesFreed   int64
}

// Run executes one writeback invocation to completion or cancellation. ctx cancellation
// is the soft-signal equivalent described in §4.5 step 3a: Run checks ctx.Err() between
// slots and returns cleanly, flushing any partially built batch first.
func (p *Policy) Run(ctx context.Context, req Request) (Result, error) {
	if p.backing == nil {
		return Result{}, common.NewError(common.KindState, "writeback requested with no backing device configured")
	}

	var res Result
	var batch []batchEntry
	startBlock := int64(-1)
	heldBlock := int64(-1)
	haveBlock := false

	releaseHeld := func() {
		if haveBlock {
			p.backing.FreeBlock(heldBlock)
			haveBlock = false
		}
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := p.flushBatch(startBlock, batch)
		res.PagesWritten += n
		batch = batch[:0]
		startBlock = -1
		return err
	}

	defer releaseHeld()

	for i := 0; i < p.table.Len(); i++ {
		if err := ctx.Err(); err != nil {
			_ = flush()
			return res, nil
		}

		if req.Max > 0 && res.PagesWritten+int64(len(batch)) >= req.Max {
			break
		}

		if remaining, ok := p.backing.RemainingWriteBudget(); !ok {
			break
		} else if remaining > 0 && int64(len(batch)) >= remaining {
			break
		}

		if !haveBlock {
			block, ok := p.backing.AllocBlock()
			if !ok {
				// backing device full; stop cleanly rather than erroring the whole run
				break
			}
			heldBlock = block
			haveBlock = true
		}

		if len(batch) > 0 && (heldBlock != startBlock+int64(len(batch)) || len(batch) >= MaxBatchSize) {
			if err := flush(); err != nil {
				return res, err
			}
		}

		s := p.table.Slot(i)
		s.Lock()
		eligible := s.Allocated() && !s.TestFlag(slot.WB) && !s.TestFlag(slot.UnderWB)
		if eligible {
			switch req.Mode {
			case ModeHuge:
				eligible = s.TestFlag(slot.Huge)
			case ModeIdle:
				eligible = s.TestFlag(slot.CompressLow) && s.TestFlag(slot.Idle) && s.IdleCount() >= req.IdleMin
			}
		}
		if !eligible {
			s.Unlock()
			continue
		}

		s.SetFlag(slot.UnderWB)
		s.SetFlag(slot.Idle)
		s.Unlock()

		page := make([]byte, p.pageSize)
		if err := p.decompressForWriteback(s, page); err != nil {
			s.Lock()
			s.ClearFlag(slot.UnderWB)
			s.ClearFlag(slot.Idle)
			s.ClearIdleCount()
			s.Unlock()
			continue
		}

		if len(batch) == 0 {
			startBlock = heldBlock
		}
		batch = append(batch, batchEntry{slotIdx: i, page: page})
		haveBlock = false // ownership transferred to the batch; next iteration allocates anew
	}

	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// decompressForWriteback reads the slot's current payload into dst without marking it
// accessed, since writeback reads must not clear the IDLE state it just set.
func (p *Policy) decompressForWriteback(s *slot.Slot, dst []byte) error {
	s.Lock()
	defer s.Unlock()

	if s.TestFlag(slot.Same) {
		val := s.Scalar()
		b := [4]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
		for i := range dst {
			dst[i] = b[i%4]
		}
		return nil
	}
	entry := s.Entry()
	if entry == nil {
		return common.NewError(common.KindState, "writeback candidate has no payload")
	}
	mapped, err := p.pool.MapRO(entry.Handle)
	if err != nil {
		return common.WrapError(common.KindResource, "map entry for writeback", err)
	}
	defer p.pool.Unmap(entry.Handle, mapped)

	if s.TestFlag(slot.Huge) || s.Size() == p.pageSize {
		copy(dst, mapped)
		return nil
	}
	stream := p.codec.Borrow()
	defer p.codec.Release(stream)
	_, err = stream.Decompress(dst, mapped[:s.Size()], p.pageSize)
	if err != nil {
		return common.WrapError(common.KindCodec, "decompress for writeback", err)
	}
	return nil
}

// flushBatch submits one contiguous run of staged pages and reconciles every slot in it,
// per §4.5.2.
func (p *Policy) flushBatch(startBlock int64, batch []batchEntry) (written int64, err error) {
	pages := make([][]byte, len(batch))
	for i, e := range batch {
		pages[i] = e.page
	}

	if werr := p.backing.WriteBatch(startBlock, pages); werr != nil {
		for i, e := range batch {
			block := startBlock + int64(i)
			s := p.table.Slot(e.slotIdx)
			s.Lock()
			s.ClearFlag(slot.UnderWB)
			s.ClearFlag(slot.Idle)
			s.ClearIdleCount()
			s.Unlock()
			p.backing.FreeBlock(block)
		}
		return 0, fmt.Errorf("writeback: batch flush: %w", werr)
	}

	for i, e := range batch {
		block := startBlock + int64(i)
		s := p.table.Slot(e.slotIdx)
		s.Lock()
		if !s.Allocated() || !s.TestFlag(slot.Idle) {
			// freed or re-populated while the bio was in flight
			s.ClearFlag(slot.UnderWB)
			s.ClearFlag(slot.Idle)
			s.Unlock()
			p.backing.FreeBlock(block)
			continue
		}
		freeEntryLocked(s, p.pool, p.dedup)
		s.SetFlag(slot.WB)
		s.SetScalar(uint32(block))
		s.ClearFlag(slot.UnderWB)
		s.Unlock()
		p.backing.DebitWriteLimit(1)
		written++
	}
	return written, nil
}

// freeEntryLocked is the writeback path's narrow version of free_page: by construction
// the slot here is never SAME or WB (those are ineligible for selection), so it only
// ever needs to drop an entry reference.
func freeEntryLocked(s *slot.Slot, p pool.Pool, d dedup.Index) {
	s.ClearFlag(slot.Idle)
	s.ClearFlag(slot.CompressLow)
	s.ClearFlag(slot.Huge)
	s.ClearIdleCount()
	if entry := s.Entry(); entry != nil {
		if entry.Unref() {
			d.Remove(entry.Checksum, entry)
			p.Free(entry.Handle)
		}
		s.SetEntry(nil)
	}
	s.SetSize(0)
}
