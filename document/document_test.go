package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/store"
)

type catalog struct {
	Title string   `json:"title" msgpack:"title" cbor:"title"`
	Items []string `json:"items" msgpack:"items" cbor:"items"`
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newValuePool[V any](t *testing.T) *pool.Pool[*Value[V]] {
	t.Helper()
	p, err := NewPool[V](2, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return p
}

type bufEditor struct{ *store.SlotBuffers }

func (bufEditor) Commit() error { return nil }
func (bufEditor) Abort() error  { return nil }

func persist[V any](t *testing.T, s *Strategy[V], res *pool.Resource[*Value[V]]) store.Snapshot {
	t.Helper()
	bufs := store.NewSlotBuffers(1)
	if err := s.WriteDisk(res, bufEditor{bufs}); err != nil {
		t.Fatalf("WriteDisk: %v", err)
	}
	out, err := bufs.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return &store.SlotSnapshot{Slots: out}
}

// ==================================
// Build
// ==================================

func TestBuildDecodesPayload(t *testing.T) {
	s := &Strategy[catalog]{Payload: codec.JSON[catalog]{}, Disk: codec.Msgpack[catalog]{}}
	body := `{"title":"spring","items":["a","b","c"]}`
	p := newValuePool[catalog](t)

	res, err := s.Build(context.Background(), writeFile(t, body), p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer res.Release()
	v := res.Value()
	if !v.Valid() || v.V.Title != "spring" || len(v.V.Items) != 3 {
		t.Fatalf("value=%+v", v)
	}
	if v.Size != int64(len(body)) || SizeOf(v) != int64(len(body)) {
		t.Fatalf("size=%d want %d", v.Size, len(body))
	}
}

func TestBuildRemovesBadPayload(t *testing.T) {
	s := &Strategy[catalog]{Payload: codec.JSON[catalog]{}}
	path := writeFile(t, "{broken")
	if _, err := s.Build(context.Background(), path, newValuePool[catalog](t)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("bad payload should be removed, stat err=%v", err)
	}
}

func TestBuildMaxBytes(t *testing.T) {
	s := &Strategy[string]{Payload: codec.String{}, MaxBytes: 3}
	_, err := s.Build(context.Background(), writeFile(t, "abcd"), newValuePool[string](t))
	if !errors.Is(err, codec.ErrTooLarge) {
		t.Fatalf("err=%v want ErrTooLarge", err)
	}
}

func TestBuildHonorsCancel(t *testing.T) {
	s := &Strategy[string]{Payload: codec.String{}}
	p := newValuePool[string](t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Build(ctx, writeFile(t, "x"), p); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if p.Stats().Created != 0 {
		t.Fatalf("no buffer should be claimed after cancel")
	}
}

// ==================================
// Disk round trips
// ==================================

func TestDiskRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		disk codec.Codec[catalog]
	}{
		{"msgpack", codec.Msgpack[catalog]{}},
		{"cbor", codec.MustCBOR[catalog](true)},
		{"payload-fallback", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Strategy[catalog]{Payload: codec.JSON[catalog]{}, Disk: tc.disk}
			p := newValuePool[catalog](t)
			src, err := s.Build(context.Background(), writeFile(t, `{"title":"t","items":["x"]}`), p)
			if err != nil {
				t.Fatal(err)
			}
			snap := persist(t, s, src)
			src.Release()

			dst, err := p.Get()
			if err != nil {
				t.Fatal(err)
			}
			defer dst.Release()
			if dst.Value().Valid() {
				t.Fatalf("reused value must be reset")
			}
			if err := s.ReadDisk(context.Background(), snap, dst); err != nil {
				t.Fatalf("ReadDisk: %v", err)
			}
			got := dst.Value()
			if got.V.Title != "t" || len(got.V.Items) != 1 || got.V.Items[0] != "x" {
				t.Fatalf("got %+v", got.V)
			}
			if got.Size < 1 {
				t.Fatalf("size=%d", got.Size)
			}
		})
	}
}

func TestProtobufDocument(t *testing.T) {
	pc := codec.NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	s := &Strategy[*wrapperspb.StringValue]{Payload: pc}
	raw, err := pc.Encode(wrapperspb.String("release-notes"))
	if err != nil {
		t.Fatal(err)
	}
	p := newValuePool[*wrapperspb.StringValue](t)
	res, err := s.Build(context.Background(), writeFile(t, string(raw)), p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap := persist(t, s, res)
	res.Release()

	dst, _ := p.Get()
	defer dst.Release()
	if err := s.ReadDisk(context.Background(), snap, dst); err != nil {
		t.Fatal(err)
	}
	if dst.Value().V.GetValue() != "release-notes" {
		t.Fatalf("got %q", dst.Value().V.GetValue())
	}
}

func TestWriteDiskRejectsEmpty(t *testing.T) {
	s := &Strategy[string]{Payload: codec.String{}}
	p := newValuePool[string](t)
	res, _ := p.Get()
	defer res.Release()
	if err := s.WriteDisk(res, bufEditor{store.NewSlotBuffers(1)}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err=%v want ErrEmpty", err)
	}
}

func TestReadDiskCorrupt(t *testing.T) {
	s := &Strategy[catalog]{Payload: codec.JSON[catalog]{}, Disk: codec.Msgpack[catalog]{}}
	p := newValuePool[catalog](t)
	res, _ := p.Get()
	defer res.Release()
	snap := &store.SlotSnapshot{Slots: [][]byte{{0xc1}}}
	if err := s.ReadDisk(context.Background(), snap, res); err == nil {
		t.Fatalf("expected decode error")
	}
	if res.Value().Valid() {
		t.Fatalf("failed read must not mark the value valid")
	}
}
