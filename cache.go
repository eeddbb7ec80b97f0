package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache/memcache"
	"github.com/unkn0wn-root/tiercache/namedlock"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

// Cache walks memory, disk and network for one artifact type.
type Cache[T, R any] struct {
	pool     *pool.Pool[T]
	strategy Strategy[T, R]
	memory   memcache.Cache[T]
	store    store.Store
	network  Network[R]
	exec     Executor
	locks    *namedlock.Pool
	log      Logger
	hooks    Hooks
	timeout  time.Duration

	mu      sync.RWMutex // guards closed against Load registering work
	closed  bool
	pending sync.WaitGroup

	fromMemory  atomic.Uint64
	fromDisk    atomic.Uint64
	fromNetwork atomic.Uint64
	cancelled   atomic.Uint64
	misses      atomic.Uint64
}

func newCache[T, R any](opts Options[T, R]) (*Cache[T, R], error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("tiercache: pool is required")
	}
	if opts.Strategy == nil {
		return nil, fmt.Errorf("tiercache: strategy is required")
	}
	if opts.Memory == nil && opts.Size == nil {
		return nil, fmt.Errorf("tiercache: size func is required for the default memory tier")
	}

	c := &Cache[T, R]{
		pool:     opts.Pool,
		strategy: opts.Strategy,
		store:    opts.Store,
		network:  opts.Network,
		timeout:  opts.RequestTimeout,
	}

	c.applyDefaults(opts)
	return c, nil
}

// Get returns the artifact for req with one hold owned by the caller, or
// false on a miss, cancellation or failure. It blocks on disk and network
// I/O; use Load from latency-sensitive goroutines.
func (c *Cache[T, R]) Get(ctx context.Context, req Request) (*pool.Resource[T], bool) {
	if res, ok := c.memory.Get(req.Key); ok {
		c.fromMemory.Add(1)
		return res, true
	}
	if c.isClosed() {
		c.misses.Add(1)
		return nil, false
	}
	if ctx.Err() != nil {
		c.cancelled.Add(1)
		return nil, false
	}
	if err := c.locks.Lock(ctx, req.Key); err != nil {
		c.cancelled.Add(1)
		return nil, false
	}
	defer c.locks.Unlock(req.Key)

	res, ok := c.getLocked(ctx, req)
	if !ok {
		if ctx.Err() != nil {
			c.cancelled.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	return res, ok
}

func (c *Cache[T, R]) getLocked(ctx context.Context, req Request) (*pool.Resource[T], bool) {
	// another caller may have filled memory while we waited on the lock
	if res, ok := c.memory.Get(req.Key); ok {
		c.fromMemory.Add(1)
		return res, true
	}
	if ctx.Err() != nil {
		return nil, false
	}
	if res, ok := c.fromStore(ctx, req.Key); ok {
		return res, true
	}
	if ctx.Err() != nil {
		return nil, false
	}
	return c.fromOrigin(ctx, req)
}

func (c *Cache[T, R]) fromStore(ctx context.Context, key string) (*pool.Resource[T], bool) {
	if c.store == nil {
		return nil, false
	}
	snap, ok, err := c.store.Get(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("disk open failed", Fields{"key": key, "err": err})
			c.hooks.DiskReadFailed(key, err)
		}
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if ctx.Err() != nil {
		_ = snap.Close()
		return nil, false
	}

	res, err := c.pool.Get()
	if err != nil {
		_ = snap.Close()
		c.log.Error("allocation failed", Fields{"key": key, "tier": "disk", "err": err})
		return nil, false
	}
	err = c.strategy.ReadDisk(ctx, snap, res)
	_ = snap.Close()
	if err != nil {
		res.Release()
		if ctx.Err() != nil {
			return nil, false
		}
		c.log.Warn("disk read failed", Fields{"key": key, "err": err})
		c.hooks.DiskReadFailed(key, err)
		// self-heal: the entry is unreadable, let the network tier rewrite it
		if rerr := c.store.Remove(ctx, key); rerr != nil {
			c.log.Debug("disk remove failed", Fields{"key": key, "err": rerr})
		}
		return nil, false
	}
	if ctx.Err() != nil {
		res.Release()
		return nil, false
	}

	c.fromDisk.Add(1)
	c.memory.Put(key, res)
	return res, true
}

func (c *Cache[T, R]) fromOrigin(ctx context.Context, req Request) (*pool.Resource[T], bool) {
	if c.network == nil {
		return nil, false
	}
	nctx, cancel := ctx, context.CancelFunc(func() {})
	if c.timeout > 0 {
		nctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	result, err := c.network.Fetch(nctx, req.Locator)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("network timeout", Fields{"key": req.Key, "locator": req.Locator})
			c.hooks.NetworkTimeout(req.Key, req.Locator)
		} else {
			c.log.Warn("network fetch failed", Fields{"key": req.Key, "locator": req.Locator, "err": err})
			c.hooks.NetworkFailed(req.Key, req.Locator, err)
		}
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, false
	}

	res, err := c.strategy.Build(ctx, result, c.pool)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("build failed", Fields{"key": req.Key, "err": err})
			c.hooks.BuildFailed(req.Key, err)
		}
		return nil, false
	}

	c.fromNetwork.Add(1)
	c.persist(context.WithoutCancel(ctx), req.Key, res)
	c.memory.Put(req.Key, res)
	return res, true
}

// persist writes res to the disk tier. Failures are logged and swallowed.
func (c *Cache[T, R]) persist(ctx context.Context, key string, res *pool.Resource[T]) {
	if c.store == nil {
		return
	}
	ed, ok, err := c.store.Edit(ctx, key)
	if err != nil {
		c.log.Warn("disk edit failed", Fields{"key": key, "err": err})
		c.hooks.PersistFailed(key, err)
		return
	}
	if !ok {
		c.log.Debug("disk edit busy; skipping persist", Fields{"key": key})
		return
	}
	if err := c.strategy.WriteDisk(res, ed); err != nil {
		perr := &PersistError{Key: key, WriteErr: err, AbortErr: ed.Abort()}
		c.log.Warn("persist failed", Fields{"key": key, "err": perr})
		c.hooks.PersistFailed(key, perr)
		return
	}
	if err := ed.Commit(); err != nil {
		c.log.Warn("persist commit failed", Fields{"key": key, "err": err})
		c.hooks.PersistFailed(key, err)
	}
}

// Invalidate drops key from memory and disk. Holders keep their resources.
// A closed cache returns ErrClosed.
func (c *Cache[T, R]) Invalidate(ctx context.Context, key string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.memory.Remove(key)
	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("tiercache: invalidate %q: %w", key, err)
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

// Clear empties the memory tier and stops pooling; buffers released while
// cleared are freed instead of reused. Start undoes the pool half.
func (c *Cache[T, R]) Clear() {
	c.memory.Clear()
	c.pool.Stop()
	if s, ok := c.strategy.(stopper); ok {
		s.Stop()
	}
}

func (c *Cache[T, R]) Start() {
	c.pool.Start()
	if s, ok := c.strategy.(stopper); ok {
		s.Start()
	}
}

// Close waits for pending Loads (or ctx), clears memory and closes the disk
// store. Later calls only serve memory hits, which are gone after Clear.
func (c *Cache[T, R]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.Clear()
	if c.store != nil {
		if cerr := c.store.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func (c *Cache[T, R]) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
