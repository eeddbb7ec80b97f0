// Package asynchook moves hook delivery off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{DiskReadEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := tiercache.New(tiercache.Options[*raster.Bitmap, string]{
//	    Pool:     bitmaps,
//	    Strategy: raster.NewFixed(210, 210),
//	    Size:     raster.SizeOf,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers what is queued and stops the workers. Events after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed queue
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) DiskReadFailed(k string, err error) { h.try(func() { h.inner.DiskReadFailed(k, err) }) }
func (h *Hooks) BuildFailed(k string, err error)    { h.try(func() { h.inner.BuildFailed(k, err) }) }
func (h *Hooks) PersistFailed(k string, err error)  { h.try(func() { h.inner.PersistFailed(k, err) }) }
func (h *Hooks) NetworkTimeout(k, loc string)       { h.try(func() { h.inner.NetworkTimeout(k, loc) }) }
func (h *Hooks) LowMemory(n int)                    { h.try(func() { h.inner.LowMemory(n) }) }
func (h *Hooks) NetworkFailed(k, loc string, err error) {
	h.try(func() { h.inner.NetworkFailed(k, loc, err) })
}
