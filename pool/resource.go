package pool

import (
	"fmt"
	"sync"
	"time"
)

// Token identifies one claim of a Resource. It changes every time the
// resource is claimed and every time its count drops to zero, so a Token
// captured earlier can be used to tell whether the resource still holds the
// same content.
type Token uint64

// Resource is a pooled, reference-counted handle around a buffer.
//
// The count is 0 while the resource sits idle in its pool. Get claims it
// (count 1); every additional holder calls Acquire and every holder calls
// Release exactly once. Reaching zero returns the buffer to the pool.
type Resource[T any] struct {
	mu        sync.Mutex
	value     T
	refs      int
	claim     Token
	claimedAt time.Time
	recycled  bool

	id   uint64
	pool *Pool[T]
}

func (r *Resource[T]) Value() T { return r.value }

// ID is unique within the owning pool and assigned in creation order.
func (r *Resource[T]) ID() uint64 { return r.id }

// Token returns the current claim generation.
func (r *Resource[T]) Token() Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claim
}

func (r *Resource[T]) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

func (r *Resource[T]) ClaimedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimedAt
}

func (r *Resource[T]) Recycled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recycled
}

func (r *Resource[T]) claimLocked(now time.Time) {
	if r.recycled {
		panic(fmt.Sprintf("pool: claim of recycled resource %d", r.id))
	}
	if r.refs != 0 {
		panic(fmt.Sprintf("pool: claim of resource %d with %d refs", r.id, r.refs))
	}
	r.refs = 1
	r.claim++
	r.claimedAt = now
}

// Acquire adds a holder. The caller must already be holding the resource
// (directly or through a cache), so acquiring a released resource panics.
func (r *Resource[T]) Acquire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recycled || r.refs <= 0 {
		panic(fmt.Sprintf("pool: acquire of released resource %d", r.id))
	}
	r.refs++
}

// TryAcquire adds a holder only if tok is still the current claim and the
// resource is live. It is the way to re-acquire from a non-owning reference.
func (r *Resource[T]) TryAcquire(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recycled || r.refs <= 0 || r.claim != tok {
		return false
	}
	r.refs++
	return true
}

// Release drops one holder. The last release invalidates outstanding tokens
// and hands the buffer back to the pool.
func (r *Resource[T]) Release() {
	r.mu.Lock()
	if r.refs <= 0 {
		r.mu.Unlock()
		panic(fmt.Sprintf("pool: release of resource %d with no refs", r.id))
	}
	r.refs--
	last := r.refs == 0
	if last {
		r.claim++
	}
	r.mu.Unlock()

	if last && r.pool != nil {
		r.pool.put(r)
	}
}

// Recycle frees the underlying buffer for good. Only legal at count 0.
func (r *Resource[T]) Recycle() {
	r.mu.Lock()
	if r.refs != 0 {
		r.mu.Unlock()
		panic(fmt.Sprintf("pool: recycle of resource %d with %d refs", r.id, r.refs))
	}
	if r.recycled {
		r.mu.Unlock()
		return
	}
	r.recycled = true
	r.mu.Unlock()

	if r.pool != nil {
		r.pool.free(r)
	}
}
