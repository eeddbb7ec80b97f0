package bigcache

import (
	"context"
	"testing"
	"time"
)

func newProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t, Config{TTL: time.Minute})

	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected clean miss; ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, ok, err := p.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get: %q ok=%v err=%v", b, ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of missing key should be quiet: %v", err)
	}
	if st := p.Stats(); st.Hits != 1 || st.Misses != 1 || st.Entries != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestEntryLargerThanShardRejected(t *testing.T) {
	ctx := context.Background()
	// 1MiB over 16 shards => 64KiB per shard
	p := newProvider(t, Config{MaxBytes: 1 << 20})

	ok, err := p.Set(ctx, "bitmap", make([]byte, 128<<10), 0, 0)
	if err != nil || ok {
		t.Fatalf("Set: ok=%v err=%v want rejection", ok, err)
	}
	if ok, err := p.Set(ctx, "thumb", make([]byte, 16<<10), 0, 0); err != nil || !ok {
		t.Fatalf("Set small: ok=%v err=%v", ok, err)
	}
	if st := p.Stats(); st.Rejected != 1 || st.Entries != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestShardsMustBePowerOfTwo(t *testing.T) {
	if _, err := New(Config{Shards: 3}); err == nil {
		t.Fatalf("expected error for 3 shards")
	}
}
