package common

import "sync"

// PagePool hands out zeroed, full-page scratch buffers. It backs the temporary pages used
// for partial-I/O read-modify-write and decompression staging.
type PagePool struct {
	p sync.Pool
}

func NewPagePool(pageSize int) *PagePool {
	return &PagePool{p: sync.Pool{New: func() any { return make([]byte, pageSize) }}}
}

func (p *PagePool) Get() []byte {
	b := p.p.Get().([]byte)
	clear(b)
	return b
}

func (p *PagePool) Put(b []byte) {
	p.p.Put(b)
}
