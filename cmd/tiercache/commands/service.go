package commands

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/document"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/raster"
)

var (
	errMiss     = errors.New("artifact not available")
	errNotImage = errors.New("artifact is not an image")
)

// result describes one resolved artifact.
type result struct {
	Key    string `json:"key"`
	Found  bool   `json:"found"`
	Kind   string `json:"kind,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// service hides the buffer type of the configured artifact kind from the
// commands.
type service interface {
	kind() string
	get(ctx context.Context, req tiercache.Request) result
	load(ctx context.Context, req tiercache.Request, done func(result)) bool
	writePNG(ctx context.Context, req tiercache.Request, w io.Writer) error
	invalidate(ctx context.Context, key string) error
	stats() tiercache.Stats
	close(ctx context.Context) error
}

type artifacts[T any] struct {
	name     string
	cache    *tiercache.Cache[T, string]
	describe func(T) result
	image    func(T) image.Image // nil for non-image kinds
}

var (
	_ service = (*artifacts[*raster.Bitmap])(nil)
	_ service = (*artifacts[*document.Value[any]])(nil)
)

func (a *artifacts[T]) kind() string { return a.name }

func (a *artifacts[T]) resultOf(key string, res *pool.Resource[T]) result {
	r := a.describe(res.Value())
	r.Key, r.Found, r.Kind = key, true, a.name
	return r
}

func (a *artifacts[T]) get(ctx context.Context, req tiercache.Request) result {
	res, ok := a.cache.Get(ctx, req)
	if !ok {
		return result{Key: req.Key}
	}
	defer res.Release()
	return a.resultOf(req.Key, res)
}

func (a *artifacts[T]) load(ctx context.Context, req tiercache.Request, done func(result)) bool {
	return a.cache.Load(ctx, req, func(res *pool.Resource[T], ok bool) {
		if !ok {
			done(result{Key: req.Key})
			return
		}
		defer res.Release()
		done(a.resultOf(req.Key, res))
	})
}

func (a *artifacts[T]) writePNG(ctx context.Context, req tiercache.Request, w io.Writer) error {
	if a.image == nil {
		return errNotImage
	}
	res, ok := a.cache.Get(ctx, req)
	if !ok {
		return errMiss
	}
	defer res.Release()
	return png.Encode(w, a.image(res.Value()))
}

func (a *artifacts[T]) invalidate(ctx context.Context, key string) error {
	return a.cache.Invalidate(ctx, key)
}

func (a *artifacts[T]) stats() tiercache.Stats { return a.cache.Stats() }

func (a *artifacts[T]) close(ctx context.Context) error { return a.cache.Close(ctx) }

func describeBitmap(bm *raster.Bitmap) result {
	return result{Bytes: raster.SizeOf(bm), Width: bm.DrawW, Height: bm.DrawH}
}

func bitmapImage(bm *raster.Bitmap) image.Image { return bm.RGBA() }

func describeDocument(v *document.Value[any]) result {
	return result{Bytes: v.Size, Detail: summarize(v.V)}
}

func summarize(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return fmt.Sprintf("object with %d keys", len(t))
	case []any:
		return fmt.Sprintf("array of %d", len(t))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
