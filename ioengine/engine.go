package ioengine

import (
	"bytes"
	"context"
	"time"

	"github.com/vramfs/zram/backing"
	"github.com/vramfs/zram/codec"
	"github.com/vramfs/zram/common"
	"github.com/vramfs/zram/common/digest"
	"github.com/vramfs/zram/dedup"
	"github.com/vramfs/zram/pool"
	"github.com/vramfs/zram/slot"
)

// Config holds the tunables that shape the write path's same-fill/huge/compression
// decisions. All are read without locking; callers update them only while the device's
// init_lock is held for write.
type Config struct {
	PageSize          int
	HugeClassSize     int // compressed length at or above which a page is stored uncompressed
	LowRatioThreshold int // percent; below this, COMPRESS_LOW is set
}

// Engine is the IOEngine collaborator. It holds no lock of its own beyond what each slot
// already provides; callers serialize configuration changes externally (the device's
// init_lock).
type Engine struct {
	table   *slot.Table
	pool    pool.Pool
	codec   codec.Codec
	dedup   dedup.Index
	backing *backing.Store // nil until a backing device is configured

	cfg   Config
	scratch *common.PagePool
	stats Stats
}

// New constructs an Engine over an already-sized slot table.
func New(table *slot.Table, p pool.Pool, c codec.Codec, d dedup.Index, cfg Config) *Engine {
	if d == nil {
		d = dedup.Disabled()
	}
	return &Engine{
		table:   table,
		pool:    p,
		codec:   c,
		dedup:   d,
		cfg:     cfg,
		scratch: common.NewPagePool(cfg.PageSize),
	}
}

// SetBacking installs or removes the backing store collaborator used by the WB read
// fallback and by the writeback policy.
func (e *Engine) SetBacking(b *backing.Store) { e.backing = b }

func (e *Engine) Backing() *backing.Store { return e.backing }
func (e *Engine) Stats() *Stats           { return &e.stats }
func (e *Engine) Table() *slot.Table      { return e.table }
func (e *Engine) Dedup() dedup.Index      { return e.dedup }
func (e *Engine) Pool() pool.Pool         { return e.pool }

func (e *Engine) nrPages() int64 { return int64(e.table.Len()) }

func (e *Engine) bounds(req *Request) error {
	if req.Length <= 0 || req.Offset < 0 {
		e.stats.InvalidIO.Add(1)
		return common.NewError(common.KindValidation, "empty or negative-offset request")
	}
	if req.Offset%common.SectorSize != 0 || req.Length%common.SectorSize != 0 {
		e.stats.InvalidIO.Add(1)
		return common.NewError(common.KindValidation, "request not sector-aligned")
	}
	end := req.Offset + req.Length
	if end > e.nrPages()*int64(e.cfg.PageSize) {
		e.stats.InvalidIO.Add(1)
		return common.NewError(common.KindValidation, "request beyond disksize")
	}
	return nil
}

// segment describes the intersection of a request with one logical page.
type segment struct {
	page   int64
	inPage int64 // offset within the page
	length int64
	buf    []byte // the slice of req.Buf covering this segment
}

func (e *Engine) segments(req *Request) []segment {
	ps := int64(e.cfg.PageSize)
	var segs []segment
	pos := req.Offset
	end := req.Offset + req.Length
	bufOff := int64(0)
	for pos < end {
		page := pos / ps
		inPage := pos % ps
		n := ps - inPage
		if pos+n > end {
			n = end - pos
		}
		segs = append(segs, segment{page: page, inPage: inPage, length: n, buf: req.Buf[bufOff : bufOff+n]})
		pos += n
		bufOff += n
	}
	return segs
}

// Read satisfies a read Request, decomposing it into page-sized segments.
func (e *Engine) Read(req *Request) error {
	if err := e.bounds(req); err != nil {
		return err
	}
	for _, seg := range e.segments(req) {
		if err := e.readSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readSegment(seg segment) error {
	s := e.table.Slot(int(seg.page))
	s.Lock()
	s.Accessed(time.Now().UnixNano())

	switch {
	case s.TestFlag(slot.WB):
		block := s.Scalar()
		s.Unlock()
		return e.readFromBacking(int64(block), seg)

	case s.TestFlag(slot.Same) || !s.Allocated():
		val := s.Scalar()
		s.Unlock()
		fillSame(seg.buf, val, seg.inPage)
		return nil

	default:
		entry := s.Entry()
		size := s.Size()
		huge := s.TestFlag(slot.Huge)
		s.Unlock()
		return e.readFromEntry(entry, size, huge, seg)
	}
}

func (e *Engine) readFromBacking(block int64, seg segment) error {
	if e.backing == nil {
		return common.NewError(common.KindState, "slot references backing block with no backing store configured")
	}
	full := e.scratch.Get()
	defer e.scratch.Put(full)
	if err := e.backing.ReadSync(context.Background(), block, full); err != nil {
		if common.IsContextError(err) {
			return common.WrapError(common.KindState, "writeback read canceled", err)
		}
		return common.WrapError(common.KindBacking, "writeback read", err)
	}
	copy(seg.buf, full[seg.inPage:seg.inPage+seg.length])
	return nil
}

func (e *Engine) readFromEntry(entry *pool.Entry, size int, huge bool, seg segment) error {
	if entry == nil {
		// allocated with neither SAME, WB, nor an entry is unreachable under I1, but
		// degrade to zero-fill rather than panicking a live read path.
		for i := range seg.buf {
			seg.buf[i] = 0
		}
		return nil
	}
	mapped, err := e.pool.MapRO(entry.Handle)
	if err != nil {
		return common.WrapError(common.KindResource, "map pool entry for read", err)
	}
	defer e.pool.Unmap(entry.Handle, mapped)

	if huge || size == e.cfg.PageSize {
		copy(seg.buf, mapped[seg.inPage:seg.inPage+seg.length])
		return nil
	}

	full := e.scratch.Get()
	defer e.scratch.Put(full)
	stream := e.codec.Borrow()
	out, err := stream.Decompress(full, mapped[:size], e.cfg.PageSize)
	e.codec.Release(stream)
	if err != nil {
		return common.WrapError(common.KindCodec, "decompress page", err)
	}
	copy(seg.buf, out[seg.inPage:seg.inPage+seg.length])
	return nil
}

// Write satisfies a write Request, decomposing it into page-sized segments. Partial
// segments are served as read-modify-write via a temporary page.
func (e *Engine) Write(req *Request) error {
	if err := e.bounds(req); err != nil {
		return err
	}
	for _, seg := range e.segments(req) {
		if err := e.writeSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeSegment(seg segment) error {
	page := seg.buf
	if seg.length != int64(e.cfg.PageSize) {
		full := e.scratch.Get()
		defer e.scratch.Put(full)
		if err := e.readSegment(segment{page: seg.page, inPage: 0, length: int64(e.cfg.PageSize), buf: full}); err != nil {
			return err
		}
		copy(full[seg.inPage:seg.inPage+seg.length], seg.buf)
		page = full
	}
	return e.storePage(int(seg.page), page)
}

// storePage implements §4.3's write path steps 2-8 for one full PAGE_SIZE buffer.
func (e *Engine) storePage(pageIdx int, page []byte) error {
	if val, ok := sameFill(page); ok {
		return e.storeSame(pageIdx, val)
	}

	d := digest.Of(page)
	if existing := e.dedup.Find(d); existing != nil {
		if mapped, err := e.pool.MapRO(existing.Handle); err == nil {
			match := e.verifyDedup(mapped, page, existing)
			e.pool.Unmap(existing.Handle, mapped)
			if match {
				existing.Ref()
				e.stats.DupSize.Add(int64(existing.Len))
				return e.storeEntry(pageIdx, existing, existing.Len, existing.Len == e.cfg.PageSize)
			}
		}
	}

	stream := e.codec.Borrow()
	dst := make([]byte, e.cfg.PageSize)
	compressed, err := stream.Compress(dst, page)
	if err != nil {
		e.codec.Release(stream)
		return common.WrapError(common.KindCodec, "compress page", err)
	}

	size := len(compressed)
	huge := size >= e.cfg.HugeClassSize
	if huge {
		size = e.cfg.PageSize
	}

	handle, err := e.pool.Alloc(size)
	if err != nil {
		// Non-blocking attempt failed; per design this retries with a blocking
		// allocation and must recompress, since the borrowed stream's state does not
		// survive the release/reacquire. The in-memory pool never actually blocks on
		// reclaim, so this path mainly exists to keep the stall counter meaningful.
		e.codec.Release(stream)
		e.stats.Writestall.Add(1)
		stream = e.codec.Borrow()
		compressed, err = stream.Compress(dst, page)
		e.codec.Release(stream)
		if err != nil {
			return common.WrapError(common.KindCodec, "recompress page after writestall", err)
		}
		size = len(compressed)
		huge = size >= e.cfg.HugeClassSize
		if huge {
			size = e.cfg.PageSize
		}
		handle, err = e.pool.Alloc(size)
		if err != nil {
			return common.WrapError(common.KindResource, "allocate pool entry", err)
		}
	} else {
		e.codec.Release(stream)
	}

	mapped, err := e.pool.MapWO(handle)
	if err != nil {
		e.pool.Free(handle)
		return common.WrapError(common.KindResource, "map fresh pool entry", err)
	}
	if huge {
		copy(mapped, page)
	} else {
		copy(mapped, compressed)
	}
	e.pool.Unmap(handle, mapped)

	entry := pool.NewDedupEntry(handle, size, d)
	e.dedup.Insert(entry)
	e.stats.CompressedSz.Add(int64(size))
	if huge {
		e.stats.HugePages.Add(1)
	}
	return e.storeEntry(pageIdx, entry, size, huge)
}

// verifyDedup guards against a checksum collision by comparing actual bytes once a
// candidate has been found; it decompresses the candidate if needed.
func (e *Engine) verifyDedup(mapped, page []byte, existing *pool.Entry) bool {
	if existing.Len == e.cfg.PageSize {
		return bytes.Equal(mapped, page)
	}
	full := e.scratch.Get()
	defer e.scratch.Put(full)
	stream := e.codec.Borrow()
	out, err := stream.Decompress(full, mapped[:existing.Len], e.cfg.PageSize)
	e.codec.Release(stream)
	if err != nil {
		return false
	}
	return bytes.Equal(out, page)
}

func (e *Engine) storeSame(pageIdx int, val uint32) error {
	s := e.table.Slot(pageIdx)
	s.Lock()
	e.freePageLocked(s)
	s.SetFlag(slot.Same)
	s.SetScalar(val)
	s.SetSize(0)
	s.Unlock()
	e.stats.SamePages.Add(1)
	e.stats.PagesStored.Add(1)
	e.stats.NoteUsedPages(e.pool.TotalPages())
	return nil
}

func (e *Engine) storeEntry(pageIdx int, entry *pool.Entry, size int, huge bool) error {
	s := e.table.Slot(pageIdx)
	s.Lock()
	e.freePageLocked(s)
	s.SetEntry(entry)
	s.SetSize(size)
	if huge {
		s.SetFlag(slot.Huge)
	}
	if ratio := (e.cfg.PageSize - size) * 100 / e.cfg.PageSize; ratio < e.cfg.LowRatioThreshold {
		s.SetFlag(slot.CompressLow)
	}
	s.Unlock()
	e.stats.PagesStored.Add(1)
	e.stats.NoteUsedPages(e.pool.TotalPages())
	return nil
}

// freePageLocked implements §4.3's internal free_page(i): caller must hold the slot lock.
// It never touches LOCK or UNDER_WB.
func (e *Engine) freePageLocked(s *slot.Slot) {
	wasAllocated := s.Allocated()
	s.ClearFlag(slot.Idle)
	s.ClearFlag(slot.CompressLow)
	s.ClearFlag(slot.Huge)
	s.ClearIdleCount()

	switch {
	case s.TestFlag(slot.WB):
		if e.backing != nil {
			e.backing.FreeBlock(int64(s.Scalar()))
		}
		s.ClearFlag(slot.WB)
		s.SetScalar(0)
	case s.TestFlag(slot.Same):
		s.ClearFlag(slot.Same)
		s.SetScalar(0)
	default:
		if entry := s.Entry(); entry != nil {
			if entry.Unref() {
				e.dedup.Remove(entry.Checksum, entry)
				e.pool.Free(entry.Handle)
			}
			s.SetEntry(nil)
		}
	}
	if s.Allocated() {
		s.SetSize(0)
	}
	if wasAllocated {
		e.stats.PagesStored.Add(-1)
	}
}

// Discard frees every fully-covered page in the request's range. Partially-covered
// logical pages at either end are left untouched, since discard is advisory.
func (e *Engine) Discard(req *Request) error {
	if err := e.bounds(req); err != nil {
		return err
	}
	ps := int64(e.cfg.PageSize)
	firstFull := (req.Offset + ps - 1) / ps
	lastFull := (req.Offset + req.Length) / ps
	for p := firstFull; p < lastFull; p++ {
		s := e.table.Slot(int(p))
		s.Lock()
		if s.Allocated() {
			e.freePageLocked(s)
			e.stats.NotifyFree.Add(1)
		}
		s.Unlock()
	}
	return nil
}

// WriteZeroes stores every fully-covered page in the request's range as the zero
// same-fill scalar, as writing a PAGE_SIZE zero buffer would, without touching the pool.
// Partially-covered logical pages at either end are left untouched.
func (e *Engine) WriteZeroes(req *Request) error {
	if err := e.bounds(req); err != nil {
		return err
	}
	ps := int64(e.cfg.PageSize)
	firstFull := (req.Offset + ps - 1) / ps
	lastFull := (req.Offset + req.Length) / ps
	for p := firstFull; p < lastFull; p++ {
		if err := e.storeSame(int(p), 0); err != nil {
			return err
		}
	}
	return nil
}

func sameFill(page []byte) (uint32, bool) {
	if len(page) < 4 {
		return 0, false
	}
	first := page[0:4]
	for i := 0; i < len(page); i += 4 {
		if !bytes.Equal(page[i:i+4], first) {
			return 0, false
		}
	}
	return uint32(first[0]) | uint32(first[1])<<8 | uint32(first[2])<<16 | uint32(first[3])<<24, true
}

func fillSame(dst []byte, val uint32, startOff int64) {
	b := [4]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	for i := range dst {
		dst[i] = b[(startOff+int64(i))%4]
	}
}
