// Package memcache holds decoded artifacts in memory.
//
// TwoLevel keeps a strong, byte-bounded LRU whose evictions are demoted into
// a weak, byte-bounded LRU. Weak entries own nothing: they carry a
// weak.Pointer plus the claim Token seen at demotion and only yield the
// resource while another holder keeps it alive with the same claim.
package memcache

import (
	"runtime"
	"sync"
	"weak"

	"github.com/unkn0wn-root/tiercache/pool"
)

// Cache is the memory tier seen by the orchestrator. Get returns the
// resource with one extra hold the caller must release. Put never steals the
// caller's hold.
type Cache[T any] interface {
	Get(key string) (*pool.Resource[T], bool)
	Put(key string, res *pool.Resource[T])
	Remove(key string)
	Clear()
	// EvictWeak drops every non-owning entry. Used when memory is short.
	EvictWeak()
	Stats() Stats
}

type Stats struct {
	StrongHits    uint64
	WeakHits      uint64
	WeakHitMisses uint64
	Misses        uint64
	AddedBig      uint64
	AddedSmall    uint64

	StrongLen   int
	StrongBytes int64
	WeakLen     int
	WeakBytes   int64
}

const (
	// footprint of a 210x210 RGBA artifact
	DefaultBigThreshold = 210 * 210 * 4
	DefaultStrongBytes  = 210 * 210 * 8 * 10
	DefaultWeakBytes    = 210 * 210 * 8 * 20
)

type Options[T any] struct {
	StrongBytes  int64 // 0 => DefaultStrongBytes
	WeakBytes    int64 // 0 => DefaultWeakBytes
	BigThreshold int64 // 0 => DefaultBigThreshold; larger artifacts skip the strong tier
	// Size reports the footprint of a buffer in bytes. nil => 1 per entry.
	Size func(T) int64
	// DisableGC skips the runtime.GC hint in Clear.
	DisableGC bool
}

type weakEntry[T any] struct {
	ptr weak.Pointer[pool.Resource[T]]
	tok pool.Token
}

// reacquire resolves a weak entry into a held resource, or reports it dead.
func (e weakEntry[T]) reacquire() (*pool.Resource[T], bool) {
	r := e.ptr.Value()
	if r == nil || !r.TryAcquire(e.tok) {
		return nil, false
	}
	return r, true
}

func weakOf[T any](r *pool.Resource[T]) weakEntry[T] {
	return weakEntry[T]{ptr: weak.Make(r), tok: r.Token()}
}

type TwoLevel[T any] struct {
	mu     sync.Mutex
	strong *sizedLRU[*pool.Resource[T]]
	weak   *sizedLRU[weakEntry[T]]
	size   func(T) int64
	big    int64
	noGC   bool
	st     Stats
}

var _ Cache[struct{}] = (*TwoLevel[struct{}])(nil)

func NewTwoLevel[T any](opts Options[T]) *TwoLevel[T] {
	c := &TwoLevel[T]{
		size: opts.Size,
		big:  coalesce(opts.BigThreshold, DefaultBigThreshold),
		noGC: opts.DisableGC,
	}
	if c.size == nil {
		c.size = func(T) int64 { return 1 }
	}
	c.weak = newSizedLRU[weakEntry[T]](coalesce(opts.WeakBytes, DefaultWeakBytes), nil)
	c.strong = newSizedLRU(coalesce(opts.StrongBytes, DefaultStrongBytes), c.demote)
	return c
}

// demote runs under c.mu for every strong eviction.
func (c *TwoLevel[T]) demote(key string, r *pool.Resource[T]) {
	if !r.Recycled() {
		c.weak.add(key, weakOf(r), c.size(r.Value()))
	}
	r.Release()
}

func (c *TwoLevel[T]) Get(key string) (*pool.Resource[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.strong.get(key); ok {
		r.Acquire()
		c.st.StrongHits++
		return r, true
	}
	if e, ok := c.weak.get(key); ok {
		if r, ok := e.reacquire(); ok {
			c.st.WeakHits++
			return r, true
		}
		c.weak.remove(key)
		c.st.WeakHitMisses++
		return nil, false
	}
	c.st.Misses++
	return nil, false
}

func (c *TwoLevel[T]) Put(key string, r *pool.Resource[T]) {
	size := c.size(r.Value())

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.big {
		if old, ok := c.strong.get(key); ok {
			c.strong.drop(key)
			old.Release()
		}
		c.weak.add(key, weakOf(r), size)
		c.st.AddedBig++
		return
	}

	r.Acquire()
	if old, ok := c.strong.get(key); ok {
		c.strong.drop(key)
		old.Release()
	}
	c.weak.remove(key)
	c.strong.add(key, r, size)
	c.st.AddedSmall++
}

// Remove forgets key in both tiers without demotion.
func (c *TwoLevel[T]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.strong.get(key); ok {
		c.strong.drop(key)
		r.Release()
	}
	c.weak.remove(key)
}

func (c *TwoLevel[T]) Clear() {
	c.mu.Lock()
	c.strong.purge()
	c.weak.purge()
	c.mu.Unlock()
	if !c.noGC {
		runtime.GC()
	}
}

func (c *TwoLevel[T]) EvictWeak() {
	c.mu.Lock()
	c.weak.purge()
	c.mu.Unlock()
}

func (c *TwoLevel[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st
	st.StrongLen, st.StrongBytes = c.strong.len(), c.strong.bytes
	st.WeakLen, st.WeakBytes = c.weak.len(), c.weak.bytes
	return st
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
