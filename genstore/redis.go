package genstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// bumpScript increments a counter and, when ARGV[1] > 0, refreshes its
// expiry in milliseconds. One round trip, applied atomically.
var bumpScript = redis.NewScript(`
local v = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return v
`)

// RedisGenStore keeps generations in Redis so that every process sharing a
// persistent tier sees the same counters: removing an entry in one replica
// invalidates it everywhere. With a TTL an expired counter reads as 0 and
// the stale entry self-heals on its next read.
type RedisGenStore struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ GenStore = (*RedisGenStore)(nil)

// NewRedisGenStore shares client with the caller; Close leaves it open.
// ttl <= 0 keeps counters forever.
func NewRedisGenStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: namespace, ttl: ttl}
}

func (s *RedisGenStore) key(k string) string { return "tiercache:gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, key string) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("genstore: snapshot %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisGenStore) Bump(ctx context.Context, key string) (uint64, error) {
	v, err := bumpScript.Run(ctx, s.rdb, []string{s.key(key)}, s.ttl.Milliseconds()).Uint64()
	if err != nil {
		return 0, fmt.Errorf("genstore: bump %s: %w", key, err)
	}
	return v, nil
}

// Cleanup is left to Redis expiry.
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error { return nil }
