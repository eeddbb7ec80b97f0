// Package raster provides the bitmap artifact for tiercache: pooled RGBA
// buffers under a memory budget, and the strategies that build them from
// downloaded image files and move them to and from the disk tier.
package raster

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/pool"
)

const bytesPerPixel = 4

var (
	ErrDisabled = errors.New("raster: strategy stopped")
	ErrSize     = errors.New("raster: bitmap size mismatch")
)

// Bitmap is a fixed-capacity RGBA buffer. Only the top-left DrawW x DrawH
// region holds the current image.
type Bitmap struct {
	W, H  int
	Pix   []byte
	DrawW int
	DrawH int
}

func (b *Bitmap) Stride() int { return b.W * bytesPerPixel }

// RGBA returns a view of the drawn region sharing b's pixels.
func (b *Bitmap) RGBA() *image.RGBA {
	return &image.RGBA{Pix: b.Pix, Stride: b.Stride(), Rect: image.Rect(0, 0, b.DrawW, b.DrawH)}
}

// canvas is the full-capacity view used for drawing.
func (b *Bitmap) canvas() *image.RGBA {
	return &image.RGBA{Pix: b.Pix, Stride: b.Stride(), Rect: image.Rect(0, 0, b.W, b.H)}
}

// SizeOf reports the memory held by b, for byte-bounded caches.
func SizeOf(b *Bitmap) int64 { return int64(len(b.Pix)) }

// Allocator hands out pixel memory against a fixed budget. Exceeding it
// returns an error wrapping pool.ErrOutOfMemory so callers can reclaim and
// retry. A nil Allocator or a zero limit is unbounded.
type Allocator struct {
	limit int64
	used  atomic.Int64
}

func NewAllocator(limit int64) *Allocator { return &Allocator{limit: limit} }

func (a *Allocator) Alloc(n int) ([]byte, error) {
	if a == nil {
		return make([]byte, n), nil
	}
	for {
		cur := a.used.Load()
		if a.limit > 0 && cur+int64(n) > a.limit {
			return nil, fmt.Errorf("raster: %d bytes over budget (%d/%d used): %w", n, cur, a.limit, pool.ErrOutOfMemory)
		}
		if a.used.CompareAndSwap(cur, cur+int64(n)) {
			return make([]byte, n), nil
		}
	}
}

func (a *Allocator) Free(n int) {
	if a != nil {
		a.used.Add(-int64(n))
	}
}

func (a *Allocator) Used() int64 {
	if a == nil {
		return 0
	}
	return a.used.Load()
}

type PoolOptions struct {
	Width, Height int // required
	Capacity      int // idle bitmaps kept; 0 => 4
	Allocator     *Allocator
	Logger        logger.Logger
}

// NewPool returns a pool of Width x Height bitmaps whose memory is charged
// to opts.Allocator and given back when a bitmap is recycled.
func NewPool(opts PoolOptions) (*pool.Pool[*Bitmap], error) {
	if opts.Width < 1 || opts.Height < 1 {
		return nil, fmt.Errorf("raster: invalid bitmap size %dx%d", opts.Width, opts.Height)
	}
	w, h, alloc := opts.Width, opts.Height, opts.Allocator
	return pool.New(pool.Options[*Bitmap]{
		Capacity: opts.Capacity,
		New: func() (*Bitmap, error) {
			pix, err := alloc.Alloc(w * h * bytesPerPixel)
			if err != nil {
				return nil, err
			}
			return &Bitmap{W: w, H: h, Pix: pix}, nil
		},
		Reset: func(b *Bitmap) { b.DrawW, b.DrawH = 0, 0 },
		Recycle: func(b *Bitmap) {
			alloc.Free(len(b.Pix))
			b.Pix = nil
		},
		Logger: opts.Logger,
	})
}
