// Package ristretto keeps kvstore entries in an in-process ristretto cache
// bounded by the encoded size of the entries. Entries vanish on restart; pair
// it with a LocalGenStore.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

const (
	defaultEntryBytes = 4 << 10
	minCounters       = 1000
	bufferItems       = 64
)

type Config struct {
	// MaxBytes bounds the summed cost of stored entries. Required.
	MaxBytes int64
	// EntryBytes is a typical entry size; it sizes the admission counters
	// (ten per expected entry). 0 => 4KiB.
	EntryBytes int64
	// Metrics enables hit and miss counting in Stats.
	Metrics bool
}

type Stats struct {
	Hits     uint64
	Misses   uint64
	Rejected uint64 // writes refused by size or by the admission policy
}

type Provider struct {
	c        *rc.Cache
	maxBytes int64
	rejected atomic.Uint64
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.MaxBytes <= 0 {
		return nil, errors.New("ristretto: MaxBytes must be positive")
	}
	entry := cfg.EntryBytes
	if entry <= 0 {
		entry = defaultEntryBytes
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: max(10*cfg.MaxBytes/entry, minCounters),
		MaxCost:     cfg.MaxBytes,
		BufferItems: bufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Provider{c: c, maxBytes: cfg.MaxBytes}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set stores a private copy of value. An entry larger than MaxBytes could
// never be admitted and is refused up front. ristretto applies writes
// asynchronously; Wait makes this one visible to the next Get.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if cost > p.maxBytes {
		p.rejected.Add(1)
		return false, nil
	}
	ok := p.c.SetWithTTL(key, append([]byte(nil), value...), cost, max(ttl, 0))
	p.c.Wait()
	if !ok {
		p.rejected.Add(1)
	}
	return ok, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Close()
	return nil
}

// Stats reports hits and misses only when Config.Metrics is set.
func (p *Provider) Stats() Stats {
	m := p.c.Metrics
	return Stats{Hits: m.Hits(), Misses: m.Misses(), Rejected: p.rejected.Load()}
}
