package tiercache

import (
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/memcache"
	"github.com/unkn0wn-root/tiercache/namedlock"
)

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// applyDefaults fills every optional tier and collaborator left nil.
func (c *Cache[T, R]) applyDefaults(opts Options[T, R]) {
	c.log = logger.OrNop(opts.Logger)
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.exec = coalesce[Executor](opts.Executor, GoExecutor{})

	c.memory = opts.Memory
	if c.memory == nil {
		c.memory = memcache.NewTwoLevel(memcache.Options[T]{Size: opts.Size})
	}
	c.locks = opts.Locks
	if c.locks == nil {
		c.locks = namedlock.New(namedlock.Options{})
	}
	if opts.Reclaim != nil {
		c.pool.SetReclaim(opts.Reclaim)
	} else {
		c.pool.SetReclaim(c.reclaim)
	}
}
