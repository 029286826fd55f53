package ioengine

import "sync/atomic"

// Stats holds the counters surfaced through mm_stat/io_stat. Every field is
// updated with plain atomics; max_used_pages additionally needs a compare-and-swap retry
// loop since it's a running maximum rather than a running sum.
type Stats struct {
	SamePages    atomic.Int64
	HugePages    atomic.Int64
	CompressedSz atomic.Int64 // sum of stored compressed bytes, for compr_data_size
	DupSize      atomic.Int64 // bytes saved by dedup hits
	Writestall   atomic.Int64
	InvalidIO    atomic.Int64
	NotifyFree   atomic.Int64
	PagesStored  atomic.Int64
	MaxUsedPages atomic.Int64
}

// NoteUsedPages updates max_used_pages with a CAS retry loop, since it tracks a running
// maximum rather than a simple accumulator.
func (s *Stats) NoteUsedPages(current int64) {
	for {
		old := s.MaxUsedPages.Load()
		if current <= old {
			return
		}
		if s.MaxUsedPages.CompareAndSwap(old, current) {
			return
		}
	}
}
