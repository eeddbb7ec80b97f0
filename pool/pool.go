// Package pool keeps a bounded set of idle, reusable buffers and hands them
// out as reference-counted Resources.
//
// Buffers are created lazily. A released buffer goes back to the idle queue
// while pooling is enabled and the queue has room; otherwise it is recycled
// (hard-freed). Allocation failures reported as ErrOutOfMemory trigger the
// reclaim hook and exactly one retry.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/tiercache/logger"
)

var (
	// ErrOutOfMemory is returned (possibly wrapped) by allocators that ran
	// out of budget. Only this class of failure is retried.
	ErrOutOfMemory = errors.New("pool: out of memory")
	// ErrAlloc wraps an allocation that still failed after reclaim + retry.
	ErrAlloc = errors.New("pool: allocation failed")
)

type Options[T any] struct {
	// Capacity bounds the idle queue. 0 => 4.
	Capacity int
	// New allocates a fresh buffer. Required.
	New func() (T, error)
	// Reset clears transient state (for example an alpha overlay) before a
	// buffer is queued for reuse.
	Reset func(T)
	// Recycle hard-frees a buffer that leaves the pool.
	Recycle func(T)
	// Reclaim is invoked once before retrying a failed allocation.
	Reclaim func()
	Logger  logger.Logger
}

type Stats struct {
	Created  uint64
	Reused   uint64
	Returned uint64
	Recycled uint64
	Idle     int
}

type Pool[T any] struct {
	newFn     func() (T, error)
	resetFn   func(T)
	recycleFn func(T)
	reclaim   atomic.Pointer[func()]
	log       logger.Logger

	mu      sync.Mutex // serializes put against Stop/Start
	idle    chan *Resource[T]
	enabled atomic.Bool

	created  atomic.Uint64
	reused   atomic.Uint64
	returned atomic.Uint64
	recycled atomic.Uint64
}

func New[T any](opts Options[T]) (*Pool[T], error) {
	if opts.New == nil {
		return nil, fmt.Errorf("pool: New func is required")
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = 4
	}
	p := &Pool[T]{
		newFn:     opts.New,
		resetFn:   opts.Reset,
		recycleFn: opts.Recycle,
		log:       logger.OrNop(opts.Logger),
		idle:      make(chan *Resource[T], capacity),
	}
	if opts.Reclaim != nil {
		p.SetReclaim(opts.Reclaim)
	}
	p.enabled.Store(true)
	return p, nil
}

// SetReclaim installs the hook used to free memory before an allocation retry.
func (p *Pool[T]) SetReclaim(f func()) {
	if f == nil {
		p.reclaim.Store(nil)
		return
	}
	p.reclaim.Store(&f)
}

// Reclaim runs the installed reclaim hook, if any.
func (p *Pool[T]) Reclaim() {
	if f := p.reclaim.Load(); f != nil {
		(*f)()
	}
}

// Get returns a claimed resource (count 1): an idle one when available,
// otherwise a newly allocated one.
func (p *Pool[T]) Get() (*Resource[T], error) {
	now := time.Now()
	select {
	case r := <-p.idle:
		r.mu.Lock()
		r.claimLocked(now)
		r.mu.Unlock()
		p.reused.Add(1)
		return r, nil
	default:
	}

	v, err := AllocRetry(p.newFn, p.Reclaim)
	if err != nil {
		p.log.Warn("pool allocation failed", logger.Fields{"err": err})
		return nil, err
	}
	r := &Resource[T]{value: v, pool: p, id: p.created.Add(1)}
	r.claimLocked(now)
	return r, nil
}

// put is called by Resource.Release when the count reaches zero.
func (p *Pool[T]) put(r *Resource[T]) {
	if p.resetFn != nil {
		p.resetFn(r.value)
	}

	p.mu.Lock()
	if p.enabled.Load() {
		select {
		case p.idle <- r:
			p.mu.Unlock()
			p.returned.Add(1)
			return
		default:
		}
	}
	p.mu.Unlock()
	r.Recycle()
}

func (p *Pool[T]) free(r *Resource[T]) {
	if p.recycleFn != nil {
		p.recycleFn(r.value)
	}
	p.recycled.Add(1)
}

// Stop disables pooling and recycles every idle resource. Resources released
// while stopped are recycled instead of queued.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	p.enabled.Store(false)
	var drained []*Resource[T]
	for {
		select {
		case r := <-p.idle:
			drained = append(drained, r)
			continue
		default:
		}
		break
	}
	p.mu.Unlock()

	for _, r := range drained {
		r.Recycle()
	}
}

// Drain recycles the idle resources and keeps pooling enabled. It returns
// how many were freed.
func (p *Pool[T]) Drain() int {
	n := 0
	for {
		select {
		case r := <-p.idle:
			r.Recycle()
			n++
		default:
			return n
		}
	}
}

// Start re-enables pooling after Stop.
func (p *Pool[T]) Start() {
	p.mu.Lock()
	p.enabled.Store(true)
	p.mu.Unlock()
}

func (p *Pool[T]) Enabled() bool { return p.enabled.Load() }

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Created:  p.created.Load(),
		Reused:   p.reused.Load(),
		Returned: p.returned.Load(),
		Recycled: p.recycled.Load(),
		Idle:     len(p.idle),
	}
}

// AllocRetry calls alloc and, when it fails with ErrOutOfMemory, runs reclaim
// and tries once more. Other errors are returned as-is.
func AllocRetry[T any](alloc func() (T, error), reclaim func()) (T, error) {
	v, err := alloc()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrOutOfMemory) {
		return v, err
	}
	if reclaim != nil {
		reclaim()
	}
	v, err = alloc()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrAlloc, err)
	}
	return v, nil
}
