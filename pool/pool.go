// Package pool defines the compact allocator abstraction that backs compressed page
// storage, and the Entry type that slots hold a reference to. The allocator itself
// (alloc/free/map/compact) is treated as an external collaborator per the design; this
// package also ships a simple in-memory implementation so the rest of the module has
// something concrete to run against.
package pool

import (
	"sync"

	"github.com/vramfs/zram/common/digest"
)

// Handle is an opaque reference to a payload living in the pool. The zero Handle is
// never returned by a successful Alloc and is used as the "no handle" sentinel.
type Handle struct {
	id uint64
}

func (h Handle) Valid() bool { return h.id != 0 }

// Pool is the compact allocator collaborator: callers ask for len bytes, get back a
// Handle, and either map it for reading/writing or free it. MapRO/MapWO views must be
// released with Unmap before the handle is freed or remapped.
type Pool interface {
	Alloc(len int) (Handle, error)
	Free(h Handle)
	MapRO(h Handle) ([]byte, error)
	MapWO(h Handle) ([]byte, error)
	Unmap(h Handle, b []byte)
	TotalPages() int64
	Compact()

	// SetLimit changes the pool's live-allocation cap in bytes, effective for the next
	// Alloc call; 0 means unbounded. Shrinking it below current usage does not evict
	// anything already allocated, matching the real allocator's "limit is checked on the
	// next allocation" behavior.
	SetLimit(maxBytes int64)
}

// Entry is the per-payload reference a slot holds into the pool. When deduplication is
// disabled every Entry has refs pinned at 1 and behaves exactly like a bare Handle; when
// enabled, multiple slots may share one Entry and Unref reports when the last reference
// is gone so the caller can free the underlying handle.
type Entry struct {
	Handle   Handle
	Len      int
	Checksum digest.Digest
	refs     int32
	mu       sync.Mutex
}

func NewEntry(h Handle, length int) *Entry {
	return &Entry{Handle: h, Len: length, refs: 1}
}

func NewDedupEntry(h Handle, length int, checksum digest.Digest) *Entry {
	return &Entry{Handle: h, Len: length, Checksum: checksum, refs: 1}
}

// Ref adds a reference, used when a write matches an existing deduplicated entry.
func (e *Entry) Ref() {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

// Unref drops a reference and reports whether it was the last one. The caller must free
// e.Handle in the pool when it returns true.
func (e *Entry) Unref() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.refs < 0 {
		panic("pool: entry refcount underflow")
	}
	return e.refs == 0
}

func (e *Entry) RefCount() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}
