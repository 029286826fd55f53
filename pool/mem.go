package pool

import (
	"errors"
	"sync"
)

var ErrOOM = errors.New("pool: out of memory")

// memPool is a simple in-memory stand-in for the compact allocator external collaborator.
// It tracks live allocations in a map keyed by an incrementing handle id; MapRO/MapWO just
// hand back (a view of) the stored slice, since there's no real page-level remapping to do
// in a plain Go heap. It exists so the rest of the module has a working default and so
// tests don't need a real slab allocator.
type memPool struct {
	mu       sync.Mutex
	nextID   uint64
	entries  map[uint64][]byte
	maxBytes int64 // 0 = unbounded
	used     int64
}

// NewMem returns an in-memory Pool. maxBytes caps total live allocation; 0 means
// unbounded (alloc only fails on genuine host OOM, which this implementation never
// simulates beyond the configured cap).
func NewMem(maxBytes int64) Pool {
	return &memPool{
		entries:  make(map[uint64][]byte),
		maxBytes: maxBytes,
	}
}

func (p *memPool) Alloc(length int) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxBytes > 0 && p.used+int64(length) > p.maxBytes {
		return Handle{}, ErrOOM
	}
	p.nextID++
	id := p.nextID
	p.entries[id] = make([]byte, length)
	p.used += int64(length)
	return Handle{id: id}, nil
}

func (p *memPool) SetLimit(maxBytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxBytes = maxBytes
}

func (p *memPool) Free(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.entries[h.id]; ok {
		p.used -= int64(len(b))
		delete(p.entries, h.id)
	}
}

func (p *memPool) MapRO(h Handle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.entries[h.id]
	if !ok {
		return nil, errors.New("pool: map of freed handle")
	}
	return b, nil
}

func (p *memPool) MapWO(h Handle) ([]byte, error) {
	return p.MapRO(h)
}

func (p *memPool) Unmap(Handle, []byte) {
	// nothing to release for an in-memory backing slice
}

func (p *memPool) TotalPages() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.entries))
}

func (p *memPool) Compact() {
	// no fragmentation to speak of in a map-backed pool
}
