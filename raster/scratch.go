package raster

import "context"

// BytePool is a fixed set of equally sized scratch buffers. Get blocks while
// all of them are in use, which also bounds concurrent disk copies.
type BytePool struct {
	size int
	ch   chan []byte
}

func NewBytePool(size, limit int) *BytePool {
	if limit <= 0 {
		limit = 1
	}
	p := &BytePool{size: size, ch: make(chan []byte, limit)}
	for i := 0; i < limit; i++ {
		p.ch <- make([]byte, size)
	}
	return p
}

func (p *BytePool) Get(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns b. Foreign or resized buffers are dropped.
func (p *BytePool) Put(b []byte) {
	if len(b) != p.size {
		return
	}
	select {
	case p.ch <- b:
	default:
	}
}

func (p *BytePool) Size() int { return p.size }
