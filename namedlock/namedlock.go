// Package namedlock provides mutual exclusion per string key with an optional
// cap on how many keys may be held at once.
//
// Lock objects are created on demand, dropped from the map once nobody holds
// or waits for them, and reused from a small free list. Locks are not
// reentrant: locking a key twice from the same goroutine deadlocks (or waits
// for ctx).
package namedlock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const defaultPoolSize = 10

type Options struct {
	// Permits caps concurrently held keys. 0 => unlimited.
	Permits int64
	// PoolSize bounds the free list of lock objects. 0 => 10.
	PoolSize int
}

type entry struct {
	ch      chan struct{} // cap 1; a token in the channel means held
	waiters int
}

type Pool struct {
	mu       sync.Mutex
	locks    map[string]*entry
	free     []*entry
	poolSize int
	sem      *semaphore.Weighted
}

func New(opts Options) *Pool {
	p := &Pool{
		locks:    make(map[string]*entry),
		poolSize: opts.PoolSize,
	}
	if p.poolSize <= 0 {
		p.poolSize = defaultPoolSize
	}
	if opts.Permits > 0 {
		p.sem = semaphore.NewWeighted(opts.Permits)
	}
	return p
}

// Lock blocks until key is held by the caller, then takes one permit when
// permits are configured. ctx only bounds the wait for the key: once the key
// is held the permit wait ignores cancellation. On ctx.Err() the key is not
// held.
func (p *Pool) Lock(ctx context.Context, key string) error {
	p.mu.Lock()
	e := p.locks[key]
	if e == nil {
		e = p.take()
		p.locks[key] = e
	}
	e.waiters++
	p.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		p.leave(key, e)
		return ctx.Err()
	}

	if p.sem != nil {
		if err := p.sem.Acquire(context.WithoutCancel(ctx), 1); err != nil {
			<-e.ch
			p.leave(key, e)
			return err
		}
	}
	return nil
}

// Unlock releases key. Unlocking a key that is not held panics.
func (p *Pool) Unlock(key string) {
	p.mu.Lock()
	e := p.locks[key]
	p.mu.Unlock()
	if e == nil {
		panic(fmt.Sprintf("namedlock: unlock of unlocked key %q", key))
	}

	select {
	case <-e.ch:
	default:
		panic(fmt.Sprintf("namedlock: unlock of unlocked key %q", key))
	}
	if p.sem != nil {
		p.sem.Release(1)
	}
	p.leave(key, e)
}

// Held reports how many keys currently have a holder or waiter.
func (p *Pool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

func (p *Pool) leave(key string, e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.waiters--
	if e.waiters > 0 {
		return
	}
	delete(p.locks, key)
	if len(p.free) < p.poolSize {
		p.free = append(p.free, e)
	}
}

// take must be called with p.mu held.
func (p *Pool) take() *entry {
	if n := len(p.free); n > 0 {
		e := p.free[n-1]
		p.free = p.free[:n-1]
		e.waiters = 0
		return e
	}
	return &entry{ch: make(chan struct{}, 1)}
}
