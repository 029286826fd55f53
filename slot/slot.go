// Package slot implements the per-logical-page metadata table: one Slot per page in
// [0, disk_size/PAGE_SIZE), the bit-spinlock discipline that guards it, and the flag/size
// packing that lets a single machine word carry both.
package slot

import (
	"sync/atomic"

	"github.com/vramfs/zram/pool"
)

// Flag is a bit in a slot's flags word. Flags above the size field share the word with
// the lock bit and the idle-count field; every flag accessor requires the slot lock to be
// held except Lock/Unlock/TryLock themselves.
type Flag uint32

const (
	Same        Flag = 1 << bitSame
	WB          Flag = 1 << bitWB
	UnderWB     Flag = 1 << bitUnderWB
	Huge        Flag = 1 << bitHuge
	Idle        Flag = 1 << bitIdle
	CompressLow Flag = 1 << bitCompressLow
)

const (
	// size occupies the low bits of the word: 0..PageSize inclusive needs 13 bits.
	sizeBits  = 13
	sizeMask  = uint32(1)<<sizeBits - 1
	bitLock   = sizeBits
	bitSame   = bitLock + 1
	bitWB     = bitSame + 1
	bitUnderWB = bitWB + 1
	bitHuge    = bitUnderWB + 1
	bitIdle        = bitHuge + 1
	bitCompressLow = bitIdle + 1

	idleCountShift = bitCompressLow + 1
	idleCountBits  = 8
	idleCountMask  = uint32(1)<<idleCountBits - 1

	lockBit = uint32(1) << bitLock

	flagMask = Same | WB | UnderWB | Huge | Idle | CompressLow
)

// IdleMax is the saturating ceiling for idle_count.
const IdleMax = idleCountMask

// Slot is one logical page's metadata. The zero Slot is a valid, empty, unlocked slot.
type Slot struct {
	word   atomic.Uint32 // lock | flags | idle_count | size, see bit* consts above
	entry  *pool.Entry   // valid iff payload is an entry (not Same, not WB)
	scalar uint32        // same-fill value (Same set) or backing block index (WB set)
	acTime atomic.Int64  // optional diagnostic last-access timestamp
}

// Lock acquires the slot's bit-spinlock, spinning until it is free. It must be released
// with Unlock. No other field of the slot may be read or written without holding it.
func (s *Slot) Lock() {
	for {
		old := s.word.Load()
		if old&lockBit == 0 && s.word.CompareAndSwap(old, old|lockBit) {
			return
		}
	}
}

// TryLock attempts to acquire the lock without blocking, for the swap free-notify style
// paths that would rather skip a busy slot than contend for it.
func (s *Slot) TryLock() bool {
	old := s.word.Load()
	if old&lockBit != 0 {
		return false
	}
	return s.word.CompareAndSwap(old, old|lockBit)
}

// Unlock releases the lock. Caller must hold it.
func (s *Slot) Unlock() {
	for {
		old := s.word.Load()
		if s.word.CompareAndSwap(old, old&^lockBit) {
			return
		}
	}
}

// Flags returns the slot's current flag bits. Caller must hold the lock.
func (s *Slot) Flags() Flag {
	return Flag(s.word.Load()) & flagMask
}

func (s *Slot) TestFlag(f Flag) bool {
	return Flag(s.word.Load())&f != 0
}

func (s *Slot) SetFlag(f Flag) {
	s.word.Store(s.word.Load() | uint32(f))
}

func (s *Slot) ClearFlag(f Flag) {
	s.word.Store(s.word.Load() &^ uint32(f))
}

// Size returns the stored payload length, 0..PageSize.
func (s *Slot) Size() int {
	return int(s.word.Load() & sizeMask)
}

// SetSize updates the size field, preserving every flag bit and the idle count.
func (s *Slot) SetSize(n int) {
	old := s.word.Load()
	s.word.Store((old &^ sizeMask) | (uint32(n) & sizeMask))
}

// IdleCount returns how many idle epochs this slot has survived unread, saturating at
// IdleMax.
func (s *Slot) IdleCount() uint32 {
	return (s.word.Load() >> idleCountShift) & idleCountMask
}

// IncIdleCount increments idle_count, saturating at IdleMax.
func (s *Slot) IncIdleCount() {
	old := s.word.Load()
	cur := (old >> idleCountShift) & idleCountMask
	if cur == idleCountMask {
		return
	}
	s.word.Store(old + (1 << idleCountShift))
}

// ClearIdleCount resets idle_count to zero without touching the Idle flag.
func (s *Slot) ClearIdleCount() {
	old := s.word.Load()
	s.word.Store(old &^ (idleCountMask << idleCountShift))
}

// MarkIdle sets the Idle flag and increments idle_count; this is the control-plane "idle
// all" primitive, distinct from writeback setting the Idle flag bare (see §4.5 step g of
// the writeback selection algorithm, which must not bump the counter).
func (s *Slot) MarkIdle() {
	s.SetFlag(Idle)
	s.IncIdleCount()
}

// Accessed clears Idle and idle_count and stamps the access time; it's invoked on every
// read of the slot's data (including the read half of a partial write). A full-page write
// clears Idle and idle_count when it frees the previous payload, without stamping the
// access time.
func (s *Slot) Accessed(now int64) {
	s.ClearFlag(Idle)
	s.ClearIdleCount()
	s.acTime.Store(now)
}

func (s *Slot) AccessTime() int64 {
	return s.acTime.Load()
}

// Entry returns the slot's pool entry reference, or nil if the payload isn't entry-backed.
func (s *Slot) Entry() *pool.Entry {
	return s.entry
}

func (s *Slot) SetEntry(e *pool.Entry) {
	s.entry = e
}

// Scalar returns the same-fill value or backing block index, depending on which of Same
// or WB is set.
func (s *Slot) Scalar() uint32 {
	return s.scalar
}

func (s *Slot) SetScalar(v uint32) {
	s.scalar = v
}

// Allocated reports whether the slot currently holds any payload: a stored size, a
// same-fill value, or a writeback reference.
func (s *Slot) Allocated() bool {
	return s.Size() > 0 || s.TestFlag(Same) || s.TestFlag(WB)
}

// Reset clears every field back to the zero slot. Caller must hold the lock (except
// during full-table teardown, where no other locker can be active).
func (s *Slot) Reset() {
	s.word.Store(s.word.Load() & lockBit) // preserve LOCK bit only
	s.entry = nil
	s.scalar = 0
	s.acTime.Store(0)
}
