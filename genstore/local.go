package genstore

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	gen    uint64
	bumped time.Time
}

// LocalGenStore keeps generations in process memory, so they are lost on
// restart together with the in-process providers it is paired with. Counters
// not bumped within the retention window are pruned; a pruned counter reads
// as 0 again.
type LocalGenStore struct {
	mu   sync.Mutex
	gens map[string]*counter

	stop context.CancelFunc
	done chan struct{}
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore prunes every interval when both durations are positive.
func NewLocalGenStore(every, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]*counter)}
	if every <= 0 || retention <= 0 {
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop, s.done = cancel, make(chan struct{})
	go s.loop(ctx, every, retention)
	return s
}

func (s *LocalGenStore) loop(ctx context.Context, every, retention time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.prune(now.Add(-retention))
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.gens[key]; c != nil {
		return c.gen, nil
	}
	return 0, nil
}

func (s *LocalGenStore) Bump(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.gens[key]
	if c == nil {
		c = &counter{}
		s.gens[key] = c
	}
	c.gen++
	c.bumped = time.Now()
	return c.gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention > 0 {
		s.prune(time.Now().Add(-retention))
	}
}

// prune drops counters last bumped before cutoff and returns how many.
func (s *LocalGenStore) prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, c := range s.gens {
		if c.bumped.Before(cutoff) {
			delete(s.gens, k)
			n++
		}
	}
	return n
}

// Close stops the cleanup loop, waiting at most until ctx ends. Calling it
// again is a no-op.
func (s *LocalGenStore) Close(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	s.stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports how many counters are tracked.
func (s *LocalGenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gens)
}
