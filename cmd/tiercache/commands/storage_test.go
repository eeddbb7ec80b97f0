package commands

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/config"
	"github.com/unkn0wn-root/tiercache/store"
)

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{"file", "badger", "ristretto", "bigcache"} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.DiskConfig{
				Backend: backend,
				Dir:     t.TempDir(),
				Version: 1,
				MaxSize: 8 << 20,
				TTL:     time.Hour,
			}
			reg := store.NewRegistry()
			st, err := openStore(cfg, "bitmap-8x8", 2, nil, reg)
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}

			ctx := context.Background()
			ed, ok, err := st.Edit(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Edit ok=%v err=%v", ok, err)
			}
			for slot, body := range []string{"pixels", "meta"} {
				w, err := ed.Writer(slot)
				if err != nil {
					t.Fatal(err)
				}
				if _, err := io.WriteString(w, body); err != nil {
					t.Fatal(err)
				}
			}
			if err := ed.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}

			snap, ok, err := st.Get(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Get ok=%v err=%v", ok, err)
			}
			r, err := snap.Reader(1)
			if err != nil {
				t.Fatal(err)
			}
			b, _ := io.ReadAll(r)
			_ = snap.Close()
			if string(b) != "meta" {
				t.Fatalf("slot 1=%q", b)
			}

			// a second open of the same namespace shares the store
			again, err := openStore(cfg, "bitmap-8x8", 2, nil, reg)
			if err != nil {
				t.Fatal(err)
			}
			if reg.Len() != 1 {
				t.Fatalf("registry holds %d stores want 1", reg.Len())
			}
			if err := again.Close(); err != nil {
				t.Fatal(err)
			}
			if err := st.Close(); err != nil {
				t.Fatal(err)
			}
			if reg.Len() != 0 {
				t.Fatalf("store left open after last close")
			}
		})
	}
}

func TestOpenStoreNone(t *testing.T) {
	st, err := openStore(config.DiskConfig{Backend: "none"}, "x", 1, nil, store.NewRegistry())
	if err != nil || st != nil {
		t.Fatalf("st=%v err=%v", st, err)
	}
}

func TestDiskCodecs(t *testing.T) {
	for _, name := range []string{"msgpack", "cbor", "json"} {
		t.Run(name, func(t *testing.T) {
			c, err := diskCodec(name, 1<<10)
			if err != nil {
				t.Fatal(err)
			}
			b, err := c.Encode(map[string]any{"a": "b"})
			if err != nil {
				t.Fatal(err)
			}
			v, err := c.Decode(b)
			if err != nil {
				t.Fatal(err)
			}
			if got := summarize(v); got != "object with 1 keys" {
				t.Fatalf("summarize=%q", got)
			}
		})
	}
	if _, err := diskCodec("xml", 0); err == nil {
		t.Fatalf("expected an error for an unknown codec")
	}
}
