package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

var ErrNoClient = errors.New("redis provider: client or addr is required")

// Provider stores disk-tier entries in Redis. Entries written with a TTL
// expire server-side; kvstore treats an expired entry as a miss.
type Provider struct {
	rdb  goredis.UniversalClient
	owns bool
}

var _ pr.Provider = (*Provider)(nil)

// Config either hands over an existing Client or describes one to dial.
// A dialed client is owned by the provider and closed with it.
type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // close a supplied Client on Close

	Addr     string
	Password string
	DB       int
}

func New(cfg Config) (*Provider, error) {
	switch {
	case cfg.Client != nil:
		return &Provider{rdb: cfg.Client, owns: cfg.CloseClient}, nil
	case cfg.Addr != "":
		c := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		return &Provider{rdb: c, owns: true}, nil
	}
	return nil, ErrNoClient
}

// Client returns the connection, for a generation store sharing it.
func (p *Provider) Client() goredis.UniversalClient { return p.rdb }

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis provider: get: %w", err)
	}
	return b, true, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := p.rdb.Set(ctx, key, value, max(ttl, 0)).Err(); err != nil {
		return false, fmt.Errorf("redis provider: set: %w", err)
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	if err := p.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis provider: del: %w", err)
	}
	return nil
}

// Close closes the client when the provider owns it. Repeated calls are
// no-ops.
func (p *Provider) Close(context.Context) error {
	if !p.owns {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
