package memcache

import (
	"testing"

	"github.com/unkn0wn-root/tiercache/pool"
)

type blob struct{ size int64 }

func newPool(t *testing.T, size int64) *pool.Pool[*blob] {
	t.Helper()
	p, err := pool.New(pool.Options[*blob]{
		Capacity: 8,
		New:      func() (*blob, error) { return &blob{size: size}, nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func get(t *testing.T, p *pool.Pool[*blob]) *pool.Resource[*blob] {
	t.Helper()
	r, err := p.Get()
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func blobSize(b *blob) int64 { return b.size }

func newTwoLevel(strong, weak, big int64) *TwoLevel[*blob] {
	return NewTwoLevel(Options[*blob]{
		StrongBytes:  strong,
		WeakBytes:    weak,
		BigThreshold: big,
		Size:         blobSize,
		DisableGC:    true,
	})
}

// ==================================
// TwoLevel
// ==================================

func TestTwoLevelStrongHitTakesHold(t *testing.T) {
	c := newTwoLevel(100, 100, 50)
	p := newPool(t, 10)
	r := get(t, p)

	c.Put("a", r)
	if r.Refs() != 2 {
		t.Fatalf("refs after Put=%d want 2 (caller + cache)", r.Refs())
	}
	r.Release()

	got, ok := c.Get("a")
	if !ok || got != r {
		t.Fatalf("expected strong hit")
	}
	if got.Refs() != 2 {
		t.Fatalf("refs after Get=%d want 2", got.Refs())
	}
	got.Release()

	st := c.Stats()
	if st.StrongHits != 1 || st.AddedSmall != 1 || st.StrongBytes != 10 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestTwoLevelEvictionDemotesToWeak(t *testing.T) {
	c := newTwoLevel(10, 100, 50)
	p := newPool(t, 10)

	a := get(t, p)
	c.Put("a", a)
	b := get(t, p)
	c.Put("b", b) // evicts a from strong

	if a.Refs() != 1 {
		t.Fatalf("demotion must drop the cache hold; refs=%d", a.Refs())
	}
	got, ok := c.Get("a")
	if !ok || got != a {
		t.Fatalf("expected weak hit while caller still holds a")
	}
	got.Release()

	st := c.Stats()
	if st.WeakHits != 1 || st.WeakLen != 1 || st.StrongLen != 1 {
		t.Fatalf("stats=%+v", st)
	}
	a.Release()
	b.Release()
}

func TestTwoLevelWeakEntryDiesOnRelease(t *testing.T) {
	c := newTwoLevel(10, 100, 50)
	p := newPool(t, 10)

	a := get(t, p)
	c.Put("a", a)
	c.Put("b", get(t, p)) // demote a
	a.Release()           // last holder: back in the pool, token bumped

	if _, ok := c.Get("a"); ok {
		t.Fatalf("weak entry must not resurrect a released resource")
	}
	if c.Stats().WeakHitMisses != 1 {
		t.Fatalf("expected a weak hit miss")
	}
	if c.Stats().WeakLen != 0 {
		t.Fatalf("dead weak entry should be removed")
	}
}

func TestTwoLevelWeakRejectsReusedResource(t *testing.T) {
	c := newTwoLevel(10, 100, 50)
	p := newPool(t, 10)

	a := get(t, p)
	c.Put("a", a)
	c.Put("b", get(t, p))
	a.Release()

	reused := get(t, p) // same buffer, new claim
	if reused != a {
		t.Fatalf("expected the pool to hand back the same resource")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("stale token must not match the new claim")
	}
	reused.Release()
}

func TestTwoLevelBigGoesWeakWithoutHold(t *testing.T) {
	c := newTwoLevel(1000, 1000, 50)
	p := newPool(t, 100)
	r := get(t, p)

	c.Put("big", r)
	if r.Refs() != 1 {
		t.Fatalf("big put must not take a hold; refs=%d", r.Refs())
	}
	st := c.Stats()
	if st.AddedBig != 1 || st.StrongLen != 0 || st.WeakLen != 1 {
		t.Fatalf("stats=%+v", st)
	}
	got, ok := c.Get("big")
	if !ok {
		t.Fatalf("expected weak hit")
	}
	got.Release()
	r.Release()
}

func TestTwoLevelRemoveAndClear(t *testing.T) {
	c := newTwoLevel(100, 100, 50)
	p := newPool(t, 10)

	a := get(t, p)
	c.Put("a", a)
	c.Remove("a")
	if a.Refs() != 1 {
		t.Fatalf("Remove must release the cache hold")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("removed key still served")
	}

	c.Put("a", a)
	c.Clear()
	if a.Refs() != 1 {
		t.Fatalf("Clear must release holds")
	}
	st := c.Stats()
	if st.StrongLen != 0 || st.WeakLen != 0 || st.StrongBytes != 0 || st.WeakBytes != 0 {
		t.Fatalf("stats after clear=%+v", st)
	}
	a.Release()
}

func TestTwoLevelReplaceReleasesOld(t *testing.T) {
	c := newTwoLevel(100, 100, 50)
	p := newPool(t, 10)

	a, b := get(t, p), get(t, p)
	c.Put("k", a)
	c.Put("k", b)
	if a.Refs() != 1 || b.Refs() != 2 {
		t.Fatalf("refs a=%d b=%d", a.Refs(), b.Refs())
	}
	if c.Stats().StrongBytes != 10 {
		t.Fatalf("bytes=%d want 10", c.Stats().StrongBytes)
	}
	c.Clear()
	a.Release()
	b.Release()
}

// ==================================
// Variants
// ==================================

func TestWeakVariant(t *testing.T) {
	c := NewWeak[*blob]()
	p := newPool(t, 10)
	r := get(t, p)

	c.Put("a", r)
	if r.Refs() != 1 {
		t.Fatalf("weak Put must not acquire")
	}
	got, ok := c.Get("a")
	if !ok {
		t.Fatalf("expected hit while held")
	}
	got.Release()
	r.Release()

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss after release")
	}
	st := c.Stats()
	if st.WeakHits != 1 || st.WeakHitMisses != 1 || st.WeakLen != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestCountingVariantReleasesOnEviction(t *testing.T) {
	c, err := NewCounting[*blob](1)
	if err != nil {
		t.Fatal(err)
	}
	p := newPool(t, 10)
	a, b := get(t, p), get(t, p)

	c.Put("a", a)
	c.Put("b", b)
	if a.Refs() != 1 {
		t.Fatalf("eviction must release; refs=%d", a.Refs())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be evicted")
	}
	got, ok := c.Get("b")
	if !ok {
		t.Fatalf("expected hit on b")
	}
	got.Release()
	c.Clear()
	if b.Refs() != 1 {
		t.Fatalf("clear must release; refs=%d", b.Refs())
	}
	a.Release()
	b.Release()
}
