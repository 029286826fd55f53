// Package zram implements a compressed RAM block device: writes are compressed (or
// represented symbolically when same-filled) and kept in an in-memory pool, with an
// optional backing block device that idle or poorly-compressing pages can be evicted to.
//
// The package composes five collaborators that each live in their own package: the
// per-page slot table (slot), the compact payload allocator (pool), the compression
// backend (codec), the optional content-dedup index (dedup), and the backing store
// (backing). The read/write/discard pipeline lives in ioengine, eviction selection and
// batching in writeback, and the text-attribute control surface's parsing/formatting in
// control. Device ties all of them to the lifecycle state machine described in §4.6.
package zram
