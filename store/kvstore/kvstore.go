// Package kvstore implements the persistent tier on top of any byte
// provider (badger, redis, ristretto, bigcache).
//
// Every entry is written with the internal wire format and carries the
// schema version and the generation observed when the edit started. Commit
// is a compare-and-swap on that generation: if the key was removed while the
// edit was in progress, the write is skipped. Reads drop entries that are
// corrupt, from another schema, or from an older generation.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/store"
)

const (
	defaultSweep        = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

// SetCostFunc reports the cost of one encoded entry for cost-aware providers.
type SetCostFunc func(key string, raw []byte) int64

// Hooks receives self-heal and write-rejection events. Implementations must
// be cheap and non-blocking.
type Hooks interface {
	// reason ∈ {"corrupt", "schema_mismatch", "gen_mismatch", "slot_mismatch"}
	SelfHeal(storageKey, reason string)
	ProviderSetRejected(storageKey string)
	RemoveOutage(key string, bumpErr, delErr error)
}

type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)           {}
func (NopHooks) ProviderSetRejected(string)        {}
func (NopHooks) RemoveOutage(string, error, error) {}

type Options struct {
	Namespace  string            // required
	Provider   provider.Provider // required
	Schema     uint32
	ValueCount int           // slots per entry; 0 => 1
	TTL        time.Duration // 0 => no expiry
	GenStore   genstore.GenStore
	// Cleanup of the default local GenStore.
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	ComputeSetCost  SetCostFunc   // nil => len(raw)
	Logger          logger.Logger
	Hooks           Hooks
}

type Store struct {
	ns         string
	p          provider.Provider
	gen        genstore.GenStore
	schema     uint32
	valueCount int
	ttl        time.Duration
	cost       SetCostFunc
	log        logger.Logger
	hooks      Hooks

	mu      sync.Mutex
	editing map[string]struct{}
}

var _ store.Store = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Provider == nil {
		return nil, errors.New("kvstore: provider is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("kvstore: namespace is required")
	}
	s := &Store{
		ns:         opts.Namespace,
		p:          opts.Provider,
		schema:     opts.Schema,
		valueCount: opts.ValueCount,
		ttl:        opts.TTL,
		cost:       opts.ComputeSetCost,
		log:        logger.OrNop(opts.Logger),
		hooks:      opts.Hooks,
		editing:    make(map[string]struct{}),
	}
	if s.valueCount <= 0 {
		s.valueCount = 1
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		sweep := opts.CleanupInterval
		if sweep <= 0 {
			sweep = defaultSweep
		}
		retention := opts.GenRetention
		if retention <= 0 {
			retention = defaultGenRetention
		}
		s.gen = genstore.NewLocalGenStore(sweep, retention)
	}
	return s, nil
}

func (s *Store) storageKey(key string) string { return "tiercache:entry:" + s.ns + ":" + key }

func (s *Store) Get(ctx context.Context, key string) (store.Snapshot, bool, error) {
	k := s.storageKey(key)
	raw, ok, err := s.p.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}

	e, err := wire.DecodeEntry(raw)
	switch {
	case err != nil:
		s.heal(ctx, k, "corrupt")
		return nil, false, nil
	case e.Key != key:
		s.heal(ctx, k, "corrupt")
		return nil, false, nil
	case e.Schema != s.schema:
		s.heal(ctx, k, "schema_mismatch")
		return nil, false, nil
	case len(e.Slots) != s.valueCount:
		s.heal(ctx, k, "slot_mismatch")
		return nil, false, nil
	}

	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		// unknown generation; a miss is always safe
		s.log.Warn("gen snapshot error", logger.Fields{"key": k, "err": err})
		return nil, false, nil
	}
	if e.Gen != cur {
		s.heal(ctx, k, "gen_mismatch")
		return nil, false, nil
	}
	return &store.SlotSnapshot{Slots: e.Slots}, true, nil
}

func (s *Store) heal(ctx context.Context, storageKey, reason string) {
	_ = s.p.Del(ctx, storageKey)
	s.hooks.SelfHeal(storageKey, reason)
	s.log.Debug("kvstore self-heal", logger.Fields{"key": storageKey, "reason": reason})
}

func (s *Store) Edit(ctx context.Context, key string) (store.Editor, bool, error) {
	k := s.storageKey(key)
	obs, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: gen snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.editing[key]; busy {
		return nil, false, nil
	}
	s.editing[key] = struct{}{}
	return &editor{
		s:    s,
		ctx:  context.WithoutCancel(ctx),
		key:  key,
		obs:  obs,
		bufs: store.NewSlotBuffers(s.valueCount),
	}, true, nil
}

func (s *Store) endEdit(key string) {
	s.mu.Lock()
	delete(s.editing, key)
	s.mu.Unlock()
}

func (s *Store) commit(ctx context.Context, key string, obs uint64, slots [][]byte) error {
	k := s.storageKey(key)
	cur, err := s.gen.Snapshot(ctx, k)
	if err != nil {
		return fmt.Errorf("kvstore: gen snapshot: %w", err)
	}
	if cur != obs {
		s.log.Debug("commit skipped (gen mismatch)", logger.Fields{"key": key, "obs": obs, "cur": cur})
		return nil
	}

	raw, err := wire.EncodeEntry(wire.Entry{Schema: s.schema, Gen: obs, Key: key, Slots: slots})
	if err != nil {
		return err
	}
	ok, err := s.p.Set(ctx, k, raw, s.cost(k, raw), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(k)
		s.log.Debug("commit rejected by provider (pressure)", logger.Fields{"key": key})
	}
	return nil
}

// Remove bumps the generation first, so an in-flight edit of key can no
// longer commit, then deletes the stored bytes.
func (s *Store) Remove(ctx context.Context, key string) error {
	k := s.storageKey(key)
	_, bumpErr := s.gen.Bump(ctx, k)
	delErr := s.p.Del(ctx, k)
	if bumpErr != nil || delErr != nil {
		if bumpErr != nil && delErr != nil {
			s.hooks.RemoveOutage(key, bumpErr, delErr)
		}
		return &RemoveError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	}
	return nil
}

// Close releases the generation store first, then the provider.
func (s *Store) Close() error {
	ctx := context.Background()
	gerr := s.gen.Close(ctx)
	perr := s.p.Close(ctx)
	return errors.Join(gerr, perr)
}

type editor struct {
	s    *Store
	ctx  context.Context
	key  string
	obs  uint64
	bufs *store.SlotBuffers
}

func (e *editor) Writer(slot int) (io.Writer, error) { return e.bufs.Writer(slot) }

func (e *editor) Commit() error {
	slots, err := e.bufs.Finish()
	if err != nil {
		return err
	}
	defer e.s.endEdit(e.key)
	return e.s.commit(e.ctx, e.key, e.obs, slots)
}

func (e *editor) Abort() error {
	if _, err := e.bufs.Finish(); err != nil {
		return err
	}
	e.s.endEdit(e.key)
	return nil
}
