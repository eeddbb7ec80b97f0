package kvstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/internal/wire"
	pr "github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/provider/badger"
	"github.com/unkn0wn-root/tiercache/store"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	delErr error
	reject bool
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.delErr != nil {
		return p.delErr
	}
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

type recHooks struct {
	NopHooks
	mu      sync.Mutex
	reasons []string
	reject  int
}

func (h *recHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.reasons = append(h.reasons, reason)
	h.mu.Unlock()
}

func (h *recHooks) ProviderSetRejected(string) {
	h.mu.Lock()
	h.reject++
	h.mu.Unlock()
}

func newTestStore(t *testing.T, p pr.Provider, mod func(*Options)) *Store {
	t.Helper()
	opts := Options{Namespace: "img", Provider: p, Schema: 1, ValueCount: 2}
	if mod != nil {
		mod(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func write(t *testing.T, ed store.Editor, slots ...string) {
	t.Helper()
	for i, v := range slots {
		w, err := ed.Writer(i)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(w, v)
	}
}

func commit(t *testing.T, s *Store, key string, slots ...string) {
	t.Helper()
	ed, ok, err := s.Edit(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Edit: ok=%v err=%v", ok, err)
	}
	write(t, ed, slots...)
	if err := ed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func slot(t *testing.T, snap store.Snapshot, i int) string {
	t.Helper()
	r, err := snap.Reader(i)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(r)
	return string(b)
}

// ==============================
// Commit / read
// ==============================

func TestCommitAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemProvider(), nil)

	if _, ok, err := s.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("expected miss; ok=%v err=%v", ok, err)
	}
	commit(t, s, "a", "pixels", "meta")

	snap, ok, err := s.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if slot(t, snap, 0) != "pixels" || slot(t, snap, 1) != "meta" {
		t.Fatalf("slot mismatch")
	}
}

func TestRemoveDuringEditSkipsCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemProvider(), nil)

	ed, ok, err := s.Edit(ctx, "a")
	if err != nil || !ok {
		t.Fatal(err)
	}
	write(t, ed, "stale", "meta")
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := ed.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("commit after Remove must be skipped")
	}

	commit(t, s, "a", "fresh", "meta")
	snap, ok, _ := s.Get(ctx, "a")
	if !ok || slot(t, snap, 0) != "fresh" {
		t.Fatalf("fresh commit after remove should be visible")
	}
}

func TestSingleEditorPerKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newMemProvider(), nil)
	ed, _, _ := s.Edit(ctx, "a")
	if _, ok, _ := s.Edit(ctx, "a"); ok {
		t.Fatalf("second edit must be refused")
	}
	_ = ed.Abort()
	if _, ok, _ := s.Edit(ctx, "a"); !ok {
		t.Fatalf("edit after abort should succeed")
	}
}

// ==============================
// Self-heal
// ==============================

func TestSelfHealReasons(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	h := &recHooks{}
	s := newTestStore(t, mp, func(o *Options) { o.Hooks = h })
	k := s.storageKey("a")

	enc := func(e wire.Entry) []byte {
		b, err := wire.EncodeEntry(e)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	cases := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{"corrupt", []byte("junk"), "corrupt"},
		{"foreign key", enc(wire.Entry{Schema: 1, Key: "other", Slots: [][]byte{nil, nil}}), "corrupt"},
		{"schema", enc(wire.Entry{Schema: 9, Key: "a", Slots: [][]byte{nil, nil}}), "schema_mismatch"},
		{"slots", enc(wire.Entry{Schema: 1, Key: "a", Slots: [][]byte{nil}}), "slot_mismatch"},
		{"gen", enc(wire.Entry{Schema: 1, Gen: 5, Key: "a", Slots: [][]byte{nil, nil}}), "gen_mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.reasons = nil
			_, _ = mp.Set(ctx, k, tc.raw, 1, 0)
			if _, ok, err := s.Get(ctx, "a"); ok || err != nil {
				t.Fatalf("expected miss; ok=%v err=%v", ok, err)
			}
			if len(h.reasons) != 1 || h.reasons[0] != tc.reason {
				t.Fatalf("reasons=%v want [%s]", h.reasons, tc.reason)
			}
			if _, ok, _ := mp.Get(ctx, k); ok {
				t.Fatalf("bad entry should be deleted")
			}
		})
	}
}

func TestProviderRejectionIsReported(t *testing.T) {
	mp := newMemProvider()
	mp.reject = true
	h := &recHooks{}
	s := newTestStore(t, mp, func(o *Options) { o.Hooks = h })
	commit(t, s, "a", "x", "y")
	if h.reject != 1 {
		t.Fatalf("reject hook calls=%d want 1", h.reject)
	}
}

func TestRemoveErrorWrapsCauses(t *testing.T) {
	mp := newMemProvider()
	boom := errors.New("del down")
	mp.delErr = boom
	s := newTestStore(t, mp, nil)

	err := s.Remove(context.Background(), "a")
	var re *RemoveError
	if !errors.As(err, &re) || !errors.Is(err, boom) || re.BumpErr != nil {
		t.Fatalf("err=%v", err)
	}
}

// ==============================
// Real provider
// ==============================

func TestWithBadgerProvider(t *testing.T) {
	ctx := context.Background()
	p, err := badger.New(badger.Config{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestStore(t, p, nil)

	commit(t, s, "a", "pixels", "meta")
	snap, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || slot(t, snap, 0) != "pixels" {
		t.Fatalf("badger-backed read failed: ok=%v err=%v", ok, err)
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("expected miss after Remove")
	}
}
