// Package dedup provides the optional content-deduplication index: a side structure keyed
// by page checksum that lets the write path reuse an existing pool entry instead of
// storing a duplicate payload. It is a pure side structure; disabling it degrades entries
// to plain pool handles with no refcount, which is exactly what pool.NewEntry already
// gives you.
package dedup

import (
	"github.com/vramfs/zram/common"
	"github.com/vramfs/zram/common/digest"
	"github.com/vramfs/zram/pool"
)

// Index is the Dedup collaborator: given a page's checksum, Find returns a live entry to
// reuse (after the caller verifies the bytes actually match, since checksums can
// collide), and Insert registers a freshly stored entry under its checksum.
type Index interface {
	// Find returns the entry currently registered for checksum d, or nil if none.
	Find(d digest.Digest) *pool.Entry

	// Insert registers e under its checksum. Replaces any existing registration for the
	// same checksum (the caller is responsible for dropping a ref on whatever it is
	// replacing, if anything).
	Insert(e *pool.Entry)

	// Remove drops the registration for checksum d iff it currently points at e. This
	// guards against a Remove racing a newer Insert for the same checksum.
	Remove(d digest.Digest, e *pool.Entry)

	// Close releases any resources held by the index (a backing database handle, for a
	// persistent index). The in-memory indexes treat it as a no-op.
	Close() error
}

// mapIndex is the default in-memory Index: a checksum-to-entry map with the same
// guarded-map discipline the teacher uses for its other process-wide lookup tables.
// Verification against the actual bytes (to rule out a checksum collision) is the write
// path's responsibility, not this index's — Find only narrows the search.
type mapIndex struct {
	m *common.SimpleSyncMap[digest.Digest, *pool.Entry]
}

// New returns the default map-backed Index.
func New() Index {
	return &mapIndex{m: common.NewSimpleSyncMap[digest.Digest, *pool.Entry]()}
}

func (x *mapIndex) Find(d digest.Digest) *pool.Entry {
	e, _ := x.m.Get(d)
	return e
}

func (x *mapIndex) Insert(e *pool.Entry) {
	x.m.Put(e.Checksum, e)
}

func (x *mapIndex) Remove(d digest.Digest, e *pool.Entry) {
	x.m.DelIfMatch(d, e)
}

func (x *mapIndex) Close() error { return nil }

// Disabled is the no-op Index used when deduplication is turned off: Find never matches,
// Insert/Remove do nothing, so every entry behaves as a plain unshared pool handle.
type disabledIndex struct{}

func Disabled() Index { return disabledIndex{} }

func (disabledIndex) Find(digest.Digest) *pool.Entry   { return nil }
func (disabledIndex) Insert(*pool.Entry)               {}
func (disabledIndex) Remove(digest.Digest, *pool.Entry) {}
func (disabledIndex) Close() error                     { return nil }
