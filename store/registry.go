package store

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry shares one open Store per name. Each Open returns a handle whose
// Close drops one reference; the underlying store closes with the last one.
type Registry struct {
	mu     sync.Mutex
	stores map[string]*shared
}

func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]*shared)}
}

type shared struct {
	Store
	refs int
}

// Open returns the store registered under name, calling open only when no
// live store exists.
func (r *Registry) Open(name string, open func() (Store, error)) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		s.refs++
		return &handle{reg: r, name: name, s: s}, nil
	}
	st, err := open()
	if err != nil {
		return nil, err
	}
	s := &shared{Store: st, refs: 1}
	r.stores[name] = s
	return &handle{reg: r, name: name, s: s}, nil
}

// Len reports how many stores are open.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

func (r *Registry) release(name string, s *shared) error {
	r.mu.Lock()
	s.refs--
	last := s.refs == 0
	if last && r.stores[name] == s {
		delete(r.stores, name)
	}
	r.mu.Unlock()
	if last {
		return s.Store.Close()
	}
	return nil
}

type handle struct {
	reg    *Registry
	name   string
	s      *shared
	once   sync.Once
	closed atomic.Bool
}

func (h *handle) Get(ctx context.Context, key string) (Snapshot, bool, error) {
	if h.closed.Load() {
		return nil, false, ErrClosed
	}
	return h.s.Get(ctx, key)
}

func (h *handle) Edit(ctx context.Context, key string) (Editor, bool, error) {
	if h.closed.Load() {
		return nil, false, ErrClosed
	}
	return h.s.Edit(ctx, key)
}

func (h *handle) Remove(ctx context.Context, key string) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.s.Remove(ctx, key)
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		h.closed.Store(true)
		err = h.reg.release(h.name, h.s)
	})
	return err
}
