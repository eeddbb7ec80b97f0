// Package sloghooks reports cache events through log/slog. Keys are
// redacted (SHA-256 prefix by default) since they often embed user ids.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	DiskReadEvery uint64
	NetworkEvery  uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	diskCtr    atomic.Uint64
	networkCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) DiskReadFailed(key string, err error) {
	if h.l == nil || !sample(h.opts.DiskReadEvery, &h.diskCtr) {
		return
	}
	h.l.Debug("tiercache.disk_read_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) BuildFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.build_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PersistFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.persist_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) NetworkFailed(key, locator string, err error) {
	if h.l == nil || !sample(h.opts.NetworkEvery, &h.networkCtr) {
		return
	}
	h.l.Info("tiercache.network_failed",
		"key", h.redact(key),
		"locator", h.redact(locator),
		"err", err)
}

func (h *Hooks) NetworkTimeout(key, locator string) {
	if h.l == nil || !sample(h.opts.NetworkEvery, &h.networkCtr) {
		return
	}
	h.l.Info("tiercache.network_timeout",
		"key", h.redact(key),
		"locator", h.redact(locator))
}

func (h *Hooks) LowMemory(drained int) {
	if h.l == nil {
		return
	}
	h.l.Error("tiercache.low_memory",
		"drained", drained)
}
