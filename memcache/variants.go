package memcache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/tiercache/pool"
)

// Weak is an unbounded map of non-owning entries. It suits artifacts of
// varying size where strong retention would be hard to budget.
type Weak[T any] struct {
	mu sync.Mutex
	m  map[string]weakEntry[T]
	st Stats
}

var _ Cache[struct{}] = (*Weak[struct{}])(nil)

func NewWeak[T any]() *Weak[T] {
	return &Weak[T]{m: make(map[string]weakEntry[T])}
}

func (c *Weak[T]) Get(key string) (*pool.Resource[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		c.st.Misses++
		return nil, false
	}
	if r, ok := e.reacquire(); ok {
		c.st.WeakHits++
		return r, true
	}
	delete(c.m, key)
	c.st.WeakHitMisses++
	return nil, false
}

func (c *Weak[T]) Put(key string, r *pool.Resource[T]) {
	c.mu.Lock()
	c.m[key] = weakOf(r)
	c.st.AddedBig++
	c.mu.Unlock()
}

func (c *Weak[T]) Remove(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Weak[T]) Clear() { c.EvictWeak() }

func (c *Weak[T]) EvictWeak() {
	c.mu.Lock()
	clear(c.m)
	c.mu.Unlock()
}

func (c *Weak[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st
	st.WeakLen = len(c.m)
	return st
}

// Counting is a count-bounded strong LRU. Every entry holds its resource;
// eviction releases the hold.
type Counting[T any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, *pool.Resource[T]]
	st  Stats
}

var _ Cache[struct{}] = (*Counting[struct{}])(nil)

func NewCounting[T any](size int) (*Counting[T], error) {
	l, err := simplelru.NewLRU[string, *pool.Resource[T]](size, func(_ string, r *pool.Resource[T]) {
		r.Release()
	})
	if err != nil {
		return nil, err
	}
	return &Counting[T]{lru: l}, nil
}

func (c *Counting[T]) Get(key string) (*pool.Resource[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lru.Get(key)
	if !ok {
		c.st.Misses++
		return nil, false
	}
	r.Acquire()
	c.st.StrongHits++
	return r, true
}

func (c *Counting[T]) Put(key string, r *pool.Resource[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Acquire()
	c.lru.Remove(key)
	c.lru.Add(key, r)
	c.st.AddedSmall++
}

func (c *Counting[T]) Remove(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

func (c *Counting[T]) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// EvictWeak is a no-op: every entry is strong.
func (c *Counting[T]) EvictWeak() {}

func (c *Counting[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st
	st.StrongLen = c.lru.Len()
	return st
}
