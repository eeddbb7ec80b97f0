package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/memcache"
	"github.com/unkn0wn-root/tiercache/namedlock"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

type (
	Logger = logger.Logger
	Fields = logger.Fields
)

// Request identifies an artifact. Key names the cache, lock and disk entry;
// Locator is only used to reach the origin.
type Request struct {
	Key     string
	Locator string
}

// Strategy converts tier payloads into pooled buffers of T. R is whatever
// the Network hands back (a downloaded file path for download.Controller).
//
// Build and ReadDisk should check ctx between expensive steps. ReadDisk fills
// a resource already claimed from the pool; on error the cache releases it.
type Strategy[T, R any] interface {
	Build(ctx context.Context, result R, p *pool.Pool[T]) (*pool.Resource[T], error)
	ReadDisk(ctx context.Context, snap store.Snapshot, res *pool.Resource[T]) error
	WriteDisk(res *pool.Resource[T], ed store.Editor) error
}

// stopper is implemented by strategies that hold scratch memory
// (raster.Capped); Clear and Start forward to it.
type stopper interface {
	Stop()
	Start()
}

// Network is the origin tier. *download.Controller satisfies Network[string].
type Network[R any] interface {
	Fetch(ctx context.Context, locator string) (R, error)
}

type NetworkFunc[R any] func(ctx context.Context, locator string) (R, error)

func (f NetworkFunc[R]) Fetch(ctx context.Context, locator string) (R, error) {
	return f(ctx, locator)
}

// Options wire the tiers together. Pool and Strategy are required.
type Options[T, R any] struct {
	Pool     *pool.Pool[T]
	Strategy Strategy[T, R]

	// Memory nil => memcache.TwoLevel sized with Size.
	Memory memcache.Cache[T]
	// Size reports a buffer's footprint in bytes for the default memory
	// tier. Required when Memory is nil.
	Size func(T) int64
	// Store nil => no disk tier.
	Store store.Store
	// Network nil => no origin tier.
	Network Network[R]

	Executor Executor        // nil => GoExecutor
	Locks    *namedlock.Pool // nil => unlimited named locks
	Logger   Logger          // nil => logger.Nop
	Hooks    Hooks           // nil => NopHooks
	// Reclaim runs when an allocation reports pool.ErrOutOfMemory. nil => the
	// cache's own reclaim: drop weak entries, drain idle buffers, force GC.
	Reclaim func()
	// RequestTimeout bounds one network fetch. 0 => no extra bound.
	RequestTimeout time.Duration
}

func New[T, R any](opts Options[T, R]) (*Cache[T, R], error) {
	return newCache(opts)
}
