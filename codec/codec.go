// Package codec defines the compression backend used to turn a page into a compact
// payload and back. The backend is deliberately narrow: a caller borrows a Stream (a
// per-worker compressor/decompressor context), uses it for exactly one operation, and
// releases it before doing anything that might block or that touches another slot.
package codec

// Stream is a borrowed compressor/decompressor workspace. It is not safe for concurrent
// use; each goroutine must hold its own borrowed Stream.
type Stream interface {
	// Compress writes a compressed form of src into dst (which has page-sized capacity)
	// and returns the slice actually written. For incompressible input the result can be
	// longer than len(src), in which case it is written to a newly allocated slice rather
	// than dst.
	Compress(dst, src []byte) ([]byte, error)

	// Decompress inflates src (whose uncompressed length is size) into dst, which must
	// have capacity >= size, and returns dst[:size].
	Decompress(dst []byte, src []byte, size int) ([]byte, error)
}

// Codec is the compression backend. Implementations are expected to keep a pool of
// Streams, one roughly per CPU, so that concurrent writers on the hot path don't
// serialize on a single compressor context.
type Codec interface {
	Name() string

	// Borrow obtains a Stream for exclusive use by the calling goroutine. The caller
	// must call Release when done, before performing any blocking operation or
	// acquiring another slot's lock.
	Borrow() Stream
	Release(Stream)
}
