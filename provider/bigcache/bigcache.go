// Package bigcache keeps kvstore entries in a sharded bigcache. BigCache has
// no per-entry TTL: Config.TTL applies to every entry of the provider.
package bigcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

const (
	defaultTTL    = 24 * time.Hour
	defaultShards = 16
	// bigcache frames each entry with a timestamp, hash and key length; the
	// byte queue adds a varint length.
	entryOverhead = 8 + 8 + 2 + 5
)

type Config struct {
	// TTL is the lifetime of every entry. 0 => 24h.
	TTL time.Duration
	// MaxBytes bounds memory, rounded up to whole MiB. 0 => unbounded.
	MaxBytes int64
	// Shards must be a power of two. 0 => 16. Each shard holds
	// MaxBytes/Shards, which is also the largest storable entry.
	Shards int
}

type Stats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Rejected int64
}

type Provider struct {
	c        *bc.BigCache
	maxEntry int // 0 => no limit
	rejected atomic.Int64
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	shards := cfg.Shards
	if shards <= 0 {
		shards = defaultShards
	}
	conf := bc.DefaultConfig(ttl)
	conf.Shards = shards
	conf.Verbose = false
	// artifacts are few and large compared with bigcache's defaults
	conf.MaxEntriesInWindow = 1024
	conf.MaxEntrySize = 16 << 10

	p := &Provider{}
	if cfg.MaxBytes > 0 {
		mb := int((cfg.MaxBytes + 1<<20 - 1) >> 20)
		conf.HardMaxCacheSize = mb
		p.maxEntry = mb << 20 / shards
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	switch {
	case errors.Is(err, bc.ErrEntryNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("bigcache: get %q: %w", key, err)
	}
	return b, true, nil
}

// Set refuses entries that cannot fit one shard instead of failing the write.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	if p.maxEntry > 0 && len(key)+len(value)+entryOverhead > p.maxEntry {
		p.rejected.Add(1)
		return false, nil
	}
	if err := p.c.Set(key, value); err != nil {
		return false, fmt.Errorf("bigcache: set %q: %w", key, err)
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return fmt.Errorf("bigcache: del %q: %w", key, err)
	}
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}

func (p *Provider) Stats() Stats {
	st := p.c.Stats()
	return Stats{
		Entries:  p.c.Len(),
		Hits:     st.Hits,
		Misses:   st.Misses,
		Rejected: p.rejected.Load(),
	}
}
