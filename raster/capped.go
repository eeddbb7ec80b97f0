package raster

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"sync"

	"golang.org/x/image/draw"

	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

// Capped builds variable-size bitmaps that fit a W x H buffer. The source is
// first center-cropped into a temporary buffer of 1.5 times the target size,
// then scaled to the target width; a result taller than H loses the excess
// evenly at top and bottom.
//
// Disk layout: slot 0 holds DrawH rows of DrawW pixels, slot 1 the Metadata.
type Capped struct {
	W, H   int
	Scaler draw.Scaler // nil => ApproxBiLinear
	// Allocator charges the temporary buffer; nil => unbounded.
	Allocator *Allocator

	tmpW, tmpH int

	mu       sync.Mutex
	tmp      *image.RGBA
	tmpBytes int
	disabled bool
}

func NewCapped(w, h int, alloc *Allocator) *Capped {
	return &Capped{
		W:         w,
		H:         h,
		Allocator: alloc,
		tmpW:      int(1.5 * float64(w)),
		tmpH:      int(1.5 * float64(h)),
	}
}

func (c *Capped) Slots() int { return 2 }

// Stop frees the temporary buffer and makes Build fail with ErrDisabled
// until Start.
func (c *Capped) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeTmpLocked()
	c.disabled = true
}

func (c *Capped) Start() {
	c.mu.Lock()
	c.disabled = false
	c.mu.Unlock()
}

func (c *Capped) freeTmpLocked() {
	if c.tmp != nil {
		c.Allocator.Free(c.tmpBytes)
		c.tmp, c.tmpBytes = nil, 0
	}
}

// tmpBufferLocked returns a buffer of at least w x h, capped at 1.5x the target.
// The current buffer is reused when large enough.
func (c *Capped) tmpBufferLocked(w, h int, reclaim func()) (*image.RGBA, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	if w > c.tmpW || h > c.tmpH {
		w, h = c.tmpW, c.tmpH
	}
	if c.tmp != nil {
		if b := c.tmp.Bounds(); b.Dx() >= w && b.Dy() >= h {
			return c.tmp, nil
		}
		c.freeTmpLocked()
	}
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("raster: temporary buffer %dx%d", w, h)
	}
	n := w * h * bytesPerPixel
	pix, err := pool.AllocRetry(func() ([]byte, error) { return c.Allocator.Alloc(n) }, reclaim)
	if err != nil {
		return nil, err
	}
	c.tmp = &image.RGBA{Pix: pix, Stride: w * bytesPerPixel, Rect: image.Rect(0, 0, w, h)}
	c.tmpBytes = n
	return c.tmp, nil
}

// DrawSizes scales a width x height source to the target width. top is the
// number of source rows to skip at the top when the scaled height exceeds H.
func (c *Capped) DrawSizes(width, height int) (w, h, top int) {
	ratio := float64(c.W) / float64(width)
	scaled := int(math.Round(ratio * float64(height)))
	w = c.W
	if scaled > c.H {
		h = c.H
		top = int(math.Round((float64(height) - float64(c.H)/ratio) / 2))
	} else {
		h = max(scaled, 1)
	}
	return w, h, top
}

func (c *Capped) Build(ctx context.Context, path string, p *pool.Pool[*Bitmap]) (*pool.Resource[*Bitmap], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := decodeConfigFile(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	tmp, err := c.tmpBufferLocked(cfg.Width, cfg.Height, p.Reclaim)
	if err != nil {
		return nil, err
	}

	tb := tmp.Bounds()
	cw, ch := min(cfg.Width, tb.Dx()), min(cfg.Height, tb.Dy())
	left, top := (cfg.Width-cw)/2, (cfg.Height-ch)/2

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	draw.Copy(tmp, image.Point{}, img, image.Rect(left, top, left+cw, top+ch).Add(b.Min), draw.Src, nil)

	w, h, skip := c.DrawSizes(cw, ch)
	res, err := p.Get()
	if err != nil {
		return nil, err
	}
	bm := res.Value()
	if w > bm.W || h > bm.H {
		res.Release()
		return nil, fmt.Errorf("%w: pool %dx%d, draw %dx%d", ErrSize, bm.W, bm.H, w, h)
	}
	scalerOr(c.Scaler).Scale(bm.canvas(), image.Rect(0, 0, w, h), tmp, image.Rect(0, skip, cw, ch-skip), draw.Src, nil)
	bm.DrawW, bm.DrawH = w, h
	return res, nil
}

func (c *Capped) ReadDisk(ctx context.Context, snap store.Snapshot, res *pool.Resource[*Bitmap]) error {
	mr, err := snap.Reader(1)
	if err != nil {
		return err
	}
	m, err := ReadMetadata(mr)
	if err != nil {
		return err
	}
	bm := res.Value()
	if int(m.Width) > bm.W || int(m.Height) > bm.H {
		return fmt.Errorf("%w: stored %dx%d exceeds %dx%d", ErrMetadata, m.Width, m.Height, bm.W, bm.H)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := snap.Reader(0)
	if err != nil {
		return err
	}
	row := int(m.Width) * bytesPerPixel
	for y := 0; y < int(m.Height); y++ {
		off := y * bm.Stride()
		if _, err := io.ReadFull(r, bm.Pix[off:off+row]); err != nil {
			return fmt.Errorf("raster: read row %d: %w", y, err)
		}
	}
	bm.DrawW, bm.DrawH = int(m.Width), int(m.Height)
	return nil
}

func (c *Capped) WriteDisk(res *pool.Resource[*Bitmap], ed store.Editor) error {
	bm := res.Value()
	w, err := ed.Writer(0)
	if err != nil {
		return err
	}
	row := bm.DrawW * bytesPerPixel
	for y := 0; y < bm.DrawH; y++ {
		off := y * bm.Stride()
		if _, err := w.Write(bm.Pix[off : off+row]); err != nil {
			return err
		}
	}
	mw, err := ed.Writer(1)
	if err != nil {
		return err
	}
	_, err = Metadata{Width: int32(bm.DrawW), Height: int32(bm.DrawH)}.WriteTo(mw)
	return err
}
