package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/tiercache"
)

type countHooks struct {
	tiercache.NopHooks
	mu    sync.Mutex
	n     int
	gate  chan struct{}
	start chan struct{}
}

func (c *countHooks) DiskReadFailed(string, error) {
	if c.start != nil {
		c.start <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countHooks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestDeliversThenCloses(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.DiskReadFailed("k", errors.New("x"))
	}
	h.Close()
	if inner.count() != 10 {
		t.Fatalf("delivered=%d want 10", inner.count())
	}
	h.DiskReadFailed("k", nil) // after Close: dropped, no panic
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countHooks{gate: make(chan struct{}), start: make(chan struct{}, 1)}
	h := New(inner, 1, 1)

	h.DiskReadFailed("a", nil)
	<-inner.start              // worker busy with "a"
	h.DiskReadFailed("b", nil) // queued
	h.DiskReadFailed("c", nil) // queue full

	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want 1", h.Dropped())
	}
	close(inner.gate)
	h.Close()
	if inner.count() != 2 {
		t.Fatalf("delivered=%d want 2", inner.count())
	}
}
