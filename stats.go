package tiercache

import (
	"github.com/unkn0wn-root/tiercache/memcache"
	"github.com/unkn0wn-root/tiercache/pool"
)

type Stats struct {
	FromMemory  uint64
	FromDisk    uint64
	FromNetwork uint64
	Cancelled   uint64
	Misses      uint64

	Memory memcache.Stats
	Pool   pool.Stats
}

func (c *Cache[T, R]) Stats() Stats {
	return Stats{
		FromMemory:  c.fromMemory.Load(),
		FromDisk:    c.fromDisk.Load(),
		FromNetwork: c.fromNetwork.Load(),
		Cancelled:   c.cancelled.Load(),
		Misses:      c.misses.Load(),
		Memory:      c.memory.Stats(),
		Pool:        c.pool.Stats(),
	}
}
