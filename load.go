package tiercache

import (
	"context"

	"github.com/unkn0wn-root/tiercache/pool"
)

// Load is the non-blocking form of Get. A memory hit is delivered through
// the executor's completion context and Load returns true. Otherwise the
// lookup runs in the background and Load returns false.
//
// cb receives one hold on a hit. A result arriving after ctx is done is
// released instead of delivered, and cb is not called.
func (c *Cache[T, R]) Load(ctx context.Context, req Request, cb func(*pool.Resource[T], bool)) bool {
	if res, ok := c.memory.Get(req.Key); ok {
		c.fromMemory.Add(1)
		c.exec.Complete(func() { c.deliver(ctx, res, true, cb) })
		return true
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		c.misses.Add(1)
		c.exec.Complete(func() { c.deliver(ctx, nil, false, cb) })
		return false
	}
	c.pending.Add(1)
	c.mu.RUnlock()

	c.exec.Background(func() {
		defer c.pending.Done()
		res, ok := c.Get(ctx, req)
		c.exec.Complete(func() { c.deliver(ctx, res, ok, cb) })
	})
	return false
}

func (c *Cache[T, R]) deliver(ctx context.Context, res *pool.Resource[T], ok bool, cb func(*pool.Resource[T], bool)) {
	if ctx.Err() != nil {
		if ok {
			res.Release()
			c.cancelled.Add(1)
		}
		return
	}
	cb(res, ok)
}
