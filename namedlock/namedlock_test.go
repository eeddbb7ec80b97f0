package namedlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockExcludesSameKey(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Lock(ctx, "k"); err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			p.Unlock("k")
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders=%d want 1", maxInside.Load())
	}
	if p.Held() != 0 {
		t.Fatalf("held=%d want 0 after all unlocks", p.Held())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	p := New(Options{})
	ctx := context.Background()
	if err := p.Lock(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		if err := p.Lock(ctx, "b"); err == nil {
			p.Unlock("b")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}
	p.Unlock("a")
}

func TestLockHonorsContext(t *testing.T) {
	p := New(Options{})
	if err := p.Lock(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Lock(ctx, "k")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	p.Unlock("k")
	if p.Held() != 0 {
		t.Fatalf("abandoned waiter leaked entry")
	}
}

func TestPermitsCapHeldKeys(t *testing.T) {
	p := New(Options{Permits: 1})
	ctx := context.Background()
	if err := p.Lock(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	got := make(chan error, 1)
	go func() { got <- p.Lock(ctx, "b") }()
	select {
	case err := <-got:
		t.Fatalf("second key should wait for a permit, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	p.Unlock("a")
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Lock b after permit freed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Lock b never acquired the freed permit")
	}
	p.Unlock("b")
}

func TestPermitWaitIgnoresCancel(t *testing.T) {
	p := New(Options{Permits: 1})
	if err := p.Lock(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() { got <- p.Lock(ctx, "b") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-got:
		t.Fatalf("cancel interrupted the permit wait: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	p.Unlock("a")
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Lock b: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Lock b never returned")
	}
	p.Unlock("b")
	if p.Held() != 0 {
		t.Fatalf("held=%d want 0", p.Held())
	}
}

func TestUnlockWithoutLockPanics(t *testing.T) {
	p := New(Options{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	p.Unlock("never")
}

func TestLockObjectsAreReused(t *testing.T) {
	p := New(Options{PoolSize: 1})
	ctx := context.Background()

	_ = p.Lock(ctx, "a")
	first := p.locks["a"]
	p.Unlock("a")
	if len(p.free) != 1 {
		t.Fatalf("free=%d want 1", len(p.free))
	}

	_ = p.Lock(ctx, "b")
	if p.locks["b"] != first {
		t.Fatalf("expected pooled lock object reuse")
	}
	_ = p.Lock(ctx, "c")
	p.Unlock("b")
	p.Unlock("c")
	if len(p.free) != 1 {
		t.Fatalf("free list exceeded PoolSize: %d", len(p.free))
	}
}
