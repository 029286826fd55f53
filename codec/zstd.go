package codec

import (
	"fmt"
	"sync"

	"github.com/DataDog/zstd"
)

// zstdCodec borrows a zstd.Ctx per stream, mirroring the per-CPU compressor workspace a
// kernel zram device keeps: one context is reused across many compress/decompress calls
// rather than allocated fresh each time.
type zstdCodec struct {
	level int
	pool  sync.Pool
}

// NewZstd returns a Codec backed by libzstd at the given compression level. level 0 asks
// zstd for its default.
func NewZstd(level int) Codec {
	c := &zstdCodec{level: level}
	c.pool.New = func() any { return &zstdStream{ctx: zstd.NewCtx(), level: c.level} }
	return c
}

func (c *zstdCodec) Name() string { return "zstd" }

func (c *zstdCodec) Borrow() Stream {
	return c.pool.Get().(*zstdStream)
}

func (c *zstdCodec) Release(s Stream) {
	c.pool.Put(s)
}

type zstdStream struct {
	ctx   zstd.Ctx
	level int
}

func (s *zstdStream) Compress(dst, src []byte) ([]byte, error) {
	bound := zstd.CompressBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, bound)
	}
	out, err := s.ctx.CompressLevel(dst[:bound], src, s.level)
	if err != nil {
		return nil, fmt.Errorf("zstd compress: %w", err)
	}
	return out, nil
}

func (s *zstdStream) Decompress(dst []byte, src []byte, size int) ([]byte, error) {
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	n, err := s.ctx.DecompressInto(dst[:size], src)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return dst[:n], nil
}
