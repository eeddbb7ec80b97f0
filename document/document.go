// Package document caches decoded values (manifests, catalogs, parsed API
// responses) instead of pixels. The origin payload is decoded once with
// Payload; the disk tier keeps the value re-encoded with Disk, usually a more
// compact binary format.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

var ErrEmpty = errors.New("document: empty value")

// Value is the pooled buffer. Size is the encoded length last seen for V and
// drives memory accounting.
type Value[V any] struct {
	V    V
	Size int64
	set  bool
}

func (v *Value[V]) Valid() bool { return v.set }

func (v *Value[V]) assign(val V, size int64) {
	v.V, v.Size, v.set = val, size, true
}

func SizeOf[V any](v *Value[V]) int64 {
	if v.Size < 1 {
		return 1
	}
	return v.Size
}

// NewPool returns a pool of empty values. Released values drop their
// payload so the garbage collector can reclaim it.
func NewPool[V any](capacity int, log logger.Logger) (*pool.Pool[*Value[V]], error) {
	return pool.New(pool.Options[*Value[V]]{
		Capacity: capacity,
		New:      func() (*Value[V], error) { return &Value[V]{}, nil },
		Reset: func(v *Value[V]) {
			var zero V
			v.V, v.Size, v.set = zero, 0, false
		},
		Logger: log,
	})
}

// Strategy builds values from downloaded files. Disk nil => Payload.
type Strategy[V any] struct {
	Payload codec.Codec[V]
	Disk    codec.Codec[V]
	// MaxBytes bounds both the downloaded file and the disk slot. 0 => unbounded.
	MaxBytes int64
}

func (s *Strategy[V]) disk() codec.Codec[V] {
	if s.Disk != nil {
		return s.Disk
	}
	return s.Payload
}

func (s *Strategy[V]) Build(ctx context.Context, path string, p *pool.Pool[*Value[V]]) (*pool.Resource[*Value[V]], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	v, err := codec.Read(f, s.Payload, s.MaxBytes)
	f.Close()
	if err != nil {
		// bad payload; drop it so the next request refetches
		_ = os.Remove(path)
		return nil, fmt.Errorf("document: %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := p.Get()
	if err != nil {
		return nil, err
	}
	res.Value().assign(v, fi.Size())
	return res, nil
}

func (s *Strategy[V]) ReadDisk(ctx context.Context, snap store.Snapshot, res *pool.Resource[*Value[V]]) error {
	r, err := snap.Reader(0)
	if err != nil {
		return err
	}
	cr := &countingReader{r: r}
	v, err := codec.Read(cr, s.disk(), s.MaxBytes)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	res.Value().assign(v, cr.n)
	return nil
}

func (s *Strategy[V]) WriteDisk(res *pool.Resource[*Value[V]], ed store.Editor) error {
	val := res.Value()
	if !val.set {
		return ErrEmpty
	}
	w, err := ed.Writer(0)
	if err != nil {
		return err
	}
	_, err = codec.Write(w, s.disk(), val.V)
	return err
}
