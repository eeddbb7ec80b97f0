package diskstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/unkn0wn-root/tiercache/store"
)

func openT(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *Store, key string, slots ...string) {
	t.Helper()
	ed, ok, err := s.Edit(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Edit(%q): ok=%v err=%v", key, ok, err)
	}
	for i, v := range slots {
		w, err := ed.Writer(i)
		if err != nil {
			t.Fatalf("Writer(%d): %v", i, err)
		}
		if _, err := io.WriteString(w, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := ed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func read(t *testing.T, snap store.Snapshot, slot int) string {
	t.Helper()
	r, err := snap.Reader(slot)
	if err != nil {
		t.Fatalf("Reader(%d): %v", slot, err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCommitThenGet(t *testing.T) {
	ctx := context.Background()
	s := openT(t, Options{Dir: t.TempDir(), Version: 1, ValueCount: 2})

	if _, ok, err := s.Get(ctx, "img"); ok || err != nil {
		t.Fatalf("expected miss on empty store; ok=%v err=%v", ok, err)
	}

	put(t, s, "img", "pixels", "meta")
	snap, ok, err := s.Get(ctx, "img")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	defer snap.Close()
	if read(t, snap, 0) != "pixels" || read(t, snap, 1) != "meta" {
		t.Fatalf("slot mismatch")
	}
}

func TestAbortLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := openT(t, Options{Dir: t.TempDir(), Version: 1})

	ed, ok, err := s.Edit(ctx, "k")
	if err != nil || !ok {
		t.Fatal(err)
	}
	w, _ := ed.Writer(0)
	_, _ = io.WriteString(w, "half")
	if err := ed.Abort(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("aborted edit must not be visible")
	}
	if err := ed.Commit(); err == nil {
		t.Fatalf("commit after abort should fail")
	}
}

func TestSingleEditorPerKey(t *testing.T) {
	ctx := context.Background()
	s := openT(t, Options{Dir: t.TempDir(), Version: 1})

	ed, ok, _ := s.Edit(ctx, "k")
	if !ok {
		t.Fatal("first edit should succeed")
	}
	if _, ok, _ := s.Edit(ctx, "k"); ok {
		t.Fatalf("second concurrent edit must be refused")
	}
	_ = ed.Abort()
	if _, ok, _ := s.Edit(ctx, "k"); !ok {
		t.Fatalf("edit after abort should succeed")
	}
}

func TestVersionChangeWipes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(Options{Dir: dir, Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	put(t, s1, "k", "v1")
	_ = s1.Close()

	same := openT(t, Options{Dir: dir, Version: 1})
	if _, ok, _ := same.Get(ctx, "k"); !ok {
		t.Fatalf("entry should survive reopen with same version")
	}

	bumped := openT(t, Options{Dir: dir, Version: 2})
	if _, ok, _ := bumped.Get(ctx, "k"); ok {
		t.Fatalf("version change must invalidate entries")
	}
	if bumped.Len() != 0 {
		t.Fatalf("len=%d want 0", bumped.Len())
	}
}

func TestSizeCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	probe := openT(t, Options{Dir: filepath.Join(dir, "probe"), Version: 1})
	put(t, probe, "a", "0123456789")
	one := probe.Size()

	s := openT(t, Options{Dir: filepath.Join(dir, "s"), Version: 1, MaxSize: 2 * one})
	put(t, s, "a", "0123456789")
	put(t, s, "b", "0123456789")
	if _, ok, _ := s.Get(ctx, "a"); !ok { // touch a; b becomes oldest
		t.Fatal("a missing")
	}
	put(t, s, "c", "0123456789")

	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Fatalf("b should be evicted")
	}
	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Fatalf("a should survive")
	}
	if s.Size() > 2*one {
		t.Fatalf("size=%d exceeds cap %d", s.Size(), 2*one)
	}
}

func TestCorruptFileSelfHeals(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openT(t, Options{Dir: dir, Version: 1})
	put(t, s, "k", "v")

	path := filepath.Join(dir, fileName("k"))
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("corrupt entry should be a miss; ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupt file should be removed")
	}
}

func TestRemoveAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := Open(Options{Dir: dir, Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	put(t, s1, "a", "1")
	put(t, s1, "b", "2")
	if err := s1.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	_ = s1.Close()

	s2 := openT(t, Options{Dir: dir, Version: 1})
	if s2.Len() != 1 {
		t.Fatalf("len=%d want 1 after reload", s2.Len())
	}
	if _, ok, _ := s2.Get(ctx, "b"); !ok {
		t.Fatalf("b should be indexed after reload")
	}
}

func TestClosedStoreRejects(t *testing.T) {
	s := openT(t, Options{Dir: t.TempDir()})
	_ = s.Close()
	if _, _, err := s.Get(context.Background(), "k"); err != store.ErrClosed {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}
