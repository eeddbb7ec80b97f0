package tiercache

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/document"
	"github.com/unkn0wn-root/tiercache/download"
	"github.com/unkn0wn-root/tiercache/origin"
	"github.com/unkn0wn-root/tiercache/store/diskstore"
)

var _ Network[string] = (*download.Controller)(nil)

type release struct {
	Version string `json:"version" msgpack:"version"`
	Notes   string `json:"notes" msgpack:"notes"`
}

// Full stack: download controller on a fake origin, diskstore, document strategy.
func TestDocumentsThroughAllTiers(t *testing.T) {
	root := t.TempDir()
	var fetches atomic.Int32
	fetch := origin.Func(func(_ context.Context, locator string, w io.Writer) error {
		fetches.Add(1)
		_, err := fmt.Fprintf(w, `{"version":%q,"notes":"fixed things"}`, locator)
		return err
	})
	dl, err := download.New(download.Options{
		Dir:        filepath.Join(root, "downloads"),
		Fetcher:    fetch,
		MinWorkers: 1,
		MaxWorkers: 2,
		Level:      download.Normal,
	})
	if err != nil {
		t.Fatalf("download.New: %v", err)
	}
	defer dl.Close()

	openCache := func() (*Cache[*document.Value[release], string], *diskstore.Store) {
		ds, err := diskstore.Open(diskstore.Options{Dir: filepath.Join(root, "disk"), Version: 1})
		if err != nil {
			t.Fatalf("diskstore.Open: %v", err)
		}
		p, err := document.NewPool[release](4, nil)
		if err != nil {
			t.Fatal(err)
		}
		c, err := New(Options[*document.Value[release], string]{
			Pool: p,
			Strategy: &document.Strategy[release]{
				Payload: codec.JSON[release]{},
				Disk:    codec.Msgpack[release]{},
			},
			Size:    document.SizeOf[release],
			Store:   ds,
			Network: dl,
		})
		if err != nil {
			t.Fatal(err)
		}
		return c, ds
	}

	c, _ := openCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, ok := c.Get(context.Background(), Request{Key: "release:1", Locator: "v1.2.0"})
			if !ok {
				t.Errorf("Get failed")
				return
			}
			if res.Value().V.Version != "v1.2.0" {
				t.Errorf("version=%q", res.Value().V.Version)
			}
			res.Release()
		}()
	}
	wg.Wait()
	if n := fetches.Load(); n != 1 {
		t.Fatalf("origin fetches=%d want 1", n)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopened: served from the disk tier without touching the origin
	c2, _ := openCache()
	defer c2.Close(context.Background())
	res, ok := c2.Get(context.Background(), Request{Key: "release:1", Locator: "v1.2.0"})
	if !ok {
		t.Fatalf("expected disk hit")
	}
	defer res.Release()
	if res.Value().V.Notes != "fixed things" {
		t.Fatalf("notes=%q", res.Value().V.Notes)
	}
	if st := c2.Stats(); st.FromDisk != 1 || st.FromNetwork != 0 {
		t.Fatalf("stats=%+v", st)
	}
	if fetches.Load() != 1 {
		t.Fatalf("origin should not be asked again")
	}
}
