package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/config"
	"github.com/unkn0wn-root/tiercache/document"
	"github.com/unkn0wn-root/tiercache/download"
	asynchook "github.com/unkn0wn-root/tiercache/hooks/async"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/memcache"
	"github.com/unkn0wn-root/tiercache/namedlock"
	"github.com/unkn0wn-root/tiercache/origin"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/raster"
	"github.com/unkn0wn-root/tiercache/sloghooks"
	"github.com/unkn0wn-root/tiercache/store"
)

const (
	hookWorkers = 1
	hookQueue   = 1024
)

type appOptions struct {
	Fetcher  origin.Fetcher     // nil => built from cfg.Origin
	Executor tiercache.Executor // nil => GoExecutor
}

// app is one configured cache with its download controller.
type app struct {
	cfg     *config.Config
	logging *logging
	hooks   *asynchook.Hooks
	stores  *store.Registry
	dl      *download.Controller
	svc     service
}

func newApp(ctx context.Context, cfg *config.Config, lg *logging, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logging: lg,
		hooks:   asynchook.New(sloghooks.New(lg.slog, sloghooks.Options{}), hookWorkers, hookQueue),
		stores:  store.NewRegistry(),
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		f, err := newFetcher(ctx, cfg.Origin)
		if err != nil {
			a.hooks.Close()
			return nil, err
		}
		fetcher = f
	}
	dl, err := newDownloads(cfg.Download, fetcher, lg.log)
	if err != nil {
		a.hooks.Close()
		return nil, err
	}
	a.dl = dl

	svc, err := newService(cfg, deps{
		log:    lg.log,
		hooks:  a.hooks,
		stores: a.stores,
		net:    dl,
		exec:   opts.Executor,
		locks:  namedlock.New(namedlock.Options{Permits: cfg.LockPermits}),
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.svc = svc
	lg.log.Info("cache ready", logger.Fields{
		"kind":   svc.kind(),
		"memory": cfg.Memory.Mode,
		"disk":   cfg.Disk.Backend,
		"origin": cfg.Origin.Kind,
	})
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.close(ctx))
	}
	if a.dl != nil {
		errs = append(errs, a.dl.Close())
	}
	a.hooks.Close()
	if n := a.hooks.Dropped(); n > 0 {
		a.logging.log.Warn("hook events dropped", logger.Fields{"count": n})
	}
	_ = a.logging.sync()
	return errors.Join(errs...)
}

func newFetcher(ctx context.Context, cfg config.OriginConfig) (origin.Fetcher, error) {
	switch cfg.Kind {
	case "s3":
		s3, err := origin.NewS3(ctx, origin.S3Config{
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			MaxBytes:  int64(cfg.MaxBytes),
		})
		if err != nil {
			return nil, fmt.Errorf("origin: %w", err)
		}
		return s3, nil
	default:
		header := make(http.Header, len(cfg.Header))
		for k, v := range cfg.Header {
			header.Set(k, v)
		}
		return &origin.HTTP{Header: header, MaxBytes: int64(cfg.MaxBytes)}, nil
	}
}

func newDownloads(cfg config.DownloadConfig, f origin.Fetcher, log logger.Logger) (*download.Controller, error) {
	return download.New(download.Options{
		Dir:             cfg.Dir,
		Fetcher:         f,
		MinWorkers:      cfg.MinWorkers,
		MaxWorkers:      cfg.MaxWorkers,
		Permits:         cfg.Permits,
		MaxAttempts:     cfg.MaxAttempts,
		Timeout:         cfg.Timeout,
		Retention:       cfg.Retention,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          log,
	})
}

type deps struct {
	log    logger.Logger
	hooks  tiercache.Hooks
	stores *store.Registry
	net    tiercache.Network[string]
	exec   tiercache.Executor
	locks  *namedlock.Pool
}

func newService(cfg *config.Config, d deps) (service, error) {
	art := cfg.Artifact
	switch art.Kind {
	case "bitmap", "capped":
		alloc := raster.NewAllocator(int64(art.MemoryBudget))
		p, err := raster.NewPool(raster.PoolOptions{
			Width:     art.Width,
			Height:    art.Height,
			Capacity:  art.PoolCapacity,
			Allocator: alloc,
			Logger:    d.log,
		})
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s-%dx%d", art.Kind, art.Width, art.Height)
		var (
			strat tiercache.Strategy[*raster.Bitmap, string]
			slots int
		)
		if art.Kind == "capped" {
			c := raster.NewCapped(art.Width, art.Height, alloc)
			strat, slots = c, c.Slots()
		} else {
			f := raster.NewFixed(art.Width, art.Height)
			strat, slots = f, f.Slots()
		}
		a, err := buildArtifacts(cfg, d, name, p, strat, slots, raster.SizeOf)
		if err != nil {
			return nil, err
		}
		a.describe, a.image = describeBitmap, bitmapImage
		return a, nil

	case "document":
		p, err := document.NewPool[any](art.PoolCapacity, d.log)
		if err != nil {
			return nil, err
		}
		disk, err := diskCodec(art.Codec, int(art.MaxBytes))
		if err != nil {
			return nil, err
		}
		strat := &document.Strategy[any]{
			Payload:  codec.JSON[any]{},
			Disk:     disk,
			MaxBytes: int64(art.MaxBytes),
		}
		a, err := buildArtifacts(cfg, d, "document-"+art.Codec, p, strat, 1, document.SizeOf[any])
		if err != nil {
			return nil, err
		}
		a.describe = describeDocument
		return a, nil
	}
	return nil, fmt.Errorf("artifact: unknown kind %q", art.Kind)
}

// diskCodec picks the encoding of documents at rest. maxBytes > 0 bounds
// what a disk entry may decode from.
func diskCodec(name string, maxBytes int) (codec.Codec[any], error) {
	var c codec.Codec[any]
	switch name {
	case "msgpack":
		c = codec.Msgpack[any]{}
	case "cbor":
		cb, err := codec.NewCBOR[any](true)
		if err != nil {
			return nil, err
		}
		c = cb
	case "json":
		c = codec.JSON[any]{}
	default:
		return nil, fmt.Errorf("artifact: unknown codec %q", name)
	}
	if maxBytes > 0 {
		c = codec.Limit[any]{Inner: c, MaxDecode: maxBytes}
	}
	return c, nil
}

func buildArtifacts[T any](cfg *config.Config, d deps, namespace string, p *pool.Pool[T], strat tiercache.Strategy[T, string], slots int, size func(T) int64) (*artifacts[T], error) {
	mem, err := newMemory(cfg.Memory, size)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg.Disk, namespace, slots, d.log, d.stores)
	if err != nil {
		return nil, fmt.Errorf("disk %s: %w", cfg.Disk.Backend, err)
	}
	c, err := tiercache.New(tiercache.Options[T, string]{
		Pool:           p,
		Strategy:       strat,
		Memory:         mem,
		Size:           size,
		Store:          st,
		Network:        d.net,
		Executor:       d.exec,
		Locks:          d.locks,
		Logger:         d.log,
		Hooks:          d.hooks,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, err
	}
	return &artifacts[T]{name: cfg.Artifact.Kind, cache: c}, nil
}

func newMemory[T any](cfg config.MemoryConfig, size func(T) int64) (memcache.Cache[T], error) {
	switch cfg.Mode {
	case "weak":
		return memcache.NewWeak[T](), nil
	case "counting":
		c, err := memcache.NewCounting[T](cfg.Entries)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return memcache.NewTwoLevel(memcache.Options[T]{
			StrongBytes:  int64(cfg.StrongBytes),
			WeakBytes:    int64(cfg.WeakBytes),
			BigThreshold: int64(cfg.BigThreshold),
			Size:         size,
		}), nil
	}
}
