package memcache

import (
	"math"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// sizedLRU is a byte-bounded LRU. Not safe for concurrent use.
type sizedLRU[V any] struct {
	lru     *simplelru.LRU[string, sized[V]]
	bytes   int64
	max     int64
	onEvict func(key string, v V)
}

type sized[V any] struct {
	v    V
	size int64
}

func newSizedLRU[V any](max int64, onEvict func(string, V)) *sizedLRU[V] {
	s := &sizedLRU[V]{max: max, onEvict: onEvict}
	// count is unbounded; trim enforces the byte budget
	l, err := simplelru.NewLRU[string, sized[V]](math.MaxInt32, s.evicted)
	if err != nil {
		panic(err) // only on size <= 0
	}
	s.lru = l
	return s
}

func (s *sizedLRU[V]) evicted(key string, e sized[V]) {
	s.bytes -= e.size
	if s.onEvict != nil {
		s.onEvict(key, e.v)
	}
}

func (s *sizedLRU[V]) get(key string) (V, bool) {
	e, ok := s.lru.Get(key)
	return e.v, ok
}

// add inserts or replaces key. A replaced value goes through onEvict.
func (s *sizedLRU[V]) add(key string, v V, size int64) {
	s.lru.Remove(key) // Add on an existing key skips the eviction callback
	s.lru.Add(key, sized[V]{v: v, size: size})
	s.bytes += size
	s.trim()
}

func (s *sizedLRU[V]) remove(key string) bool { return s.lru.Remove(key) }

// drop removes key without running onEvict.
func (s *sizedLRU[V]) drop(key string) {
	cb := s.onEvict
	s.onEvict = nil
	s.lru.Remove(key)
	s.onEvict = cb
}

func (s *sizedLRU[V]) trim() {
	for s.bytes > s.max && s.lru.Len() > 0 {
		s.lru.RemoveOldest()
	}
}

func (s *sizedLRU[V]) purge() { s.lru.Purge() }

func (s *sizedLRU[V]) len() int { return s.lru.Len() }
