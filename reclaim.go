package tiercache

import (
	"runtime"
	"runtime/debug"
)

// reclaim frees what the cache can give back without touching live holders:
// weak entries, idle pooled buffers, then whatever the runtime can return to
// the OS.
func (c *Cache[T, R]) reclaim() {
	c.memory.EvictWeak()
	drained := c.pool.Drain()
	runtime.GC()
	debug.FreeOSMemory()
	c.log.Warn("low memory; reclaimed", Fields{"drained": drained})
	c.hooks.LowMemory(drained)
}
