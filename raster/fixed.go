package raster

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"golang.org/x/image/draw"

	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

const scratchBuffers = 3

// Fixed builds W x H bitmaps by center-cropping the downloaded image. The
// disk tier stores the raw pixels in slot 0.
type Fixed struct {
	W, H   int
	Scaler draw.Scaler // nil => ApproxBiLinear

	scratch *BytePool
	mu      sync.Mutex // one decode at a time
}

func NewFixed(w, h int) *Fixed {
	return &Fixed{W: w, H: h, scratch: NewBytePool(w*h*bytesPerPixel, scratchBuffers)}
}

// Slots is the number of disk slots Fixed reads and writes.
func (f *Fixed) Slots() int { return 1 }

func (f *Fixed) Build(ctx context.Context, path string, p *pool.Pool[*Bitmap]) (*pool.Resource[*Bitmap], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	img, err := decodeFile(path)
	if err != nil {
		// undecodable download; drop it so the next request refetches
		_ = os.Remove(path)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := p.Get()
	if err != nil {
		return nil, err
	}
	bm := res.Value()
	if bm.W != f.W || bm.H != f.H {
		res.Release()
		return nil, fmt.Errorf("%w: pool %dx%d, strategy %dx%d", ErrSize, bm.W, bm.H, f.W, f.H)
	}
	b := img.Bounds()
	src := centerCrop(b.Dx(), b.Dy(), f.W, f.H).Add(b.Min)
	scalerOr(f.Scaler).Scale(bm.canvas(), image.Rect(0, 0, f.W, f.H), img, src, draw.Src, nil)
	bm.DrawW, bm.DrawH = f.W, f.H
	return res, nil
}

func (f *Fixed) ReadDisk(ctx context.Context, snap store.Snapshot, res *pool.Resource[*Bitmap]) error {
	buf, err := f.scratch.Get(ctx)
	if err != nil {
		return err
	}
	defer f.scratch.Put(buf)

	r, err := snap.Reader(0)
	if err != nil {
		return err
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("raster: read pixels: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bm := res.Value()
	if len(bm.Pix) != len(buf) {
		return ErrSize
	}
	copy(bm.Pix, buf)
	bm.DrawW, bm.DrawH = f.W, f.H
	return nil
}

func (f *Fixed) WriteDisk(res *pool.Resource[*Bitmap], ed store.Editor) error {
	buf, err := f.scratch.Get(context.Background())
	if err != nil {
		return err
	}
	defer f.scratch.Put(buf)

	bm := res.Value()
	if len(bm.Pix) != len(buf) {
		return ErrSize
	}
	copy(buf, bm.Pix)
	w, err := ed.Writer(0)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
