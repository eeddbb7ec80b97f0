package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuffered(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestRedactsKeys(t *testing.T) {
	h, buf := newBuffered(Options{})
	h.BuildFailed("user:42:avatar", errors.New("bad png"))
	out := buf.String()
	if strings.Contains(out, "user:42") {
		t.Fatalf("raw key leaked: %s", out)
	}
	if !strings.Contains(out, "tiercache.build_failed") || !strings.Contains(out, "bad png") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newBuffered(Options{Redact: func(string) string { return "REDACTED" }})
	h.PersistFailed("k", errors.New("disk full"))
	if !strings.Contains(buf.String(), "key=REDACTED") {
		t.Fatalf("output=%s", buf.String())
	}
}

func TestSampling(t *testing.T) {
	cases := []struct {
		name  string
		every uint64
		calls int
		want  int
	}{
		{"all", 0, 5, 5},
		{"one", 1, 5, 5},
		{"every third", 3, 9, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, buf := newBuffered(Options{DiskReadEvery: tc.every})
			for i := 0; i < tc.calls; i++ {
				h.DiskReadFailed("k", nil)
			}
			if got := strings.Count(buf.String(), "tiercache.disk_read_failed"); got != tc.want {
				t.Fatalf("logged=%d want %d", got, tc.want)
			}
		})
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.LowMemory(3)
	h.NetworkTimeout("k", "l")
	h.NetworkFailed("k", "l", nil)
}
