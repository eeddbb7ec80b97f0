// Package genstore keeps one generation counter per stored entry.
//
// A writer snapshots the generation before it starts producing an entry and
// commits only if the generation is unchanged; removal bumps it. Readers
// compare the generation recorded in an entry with the current one and drop
// the entry on mismatch.
package genstore

import (
	"context"
	"time"
)

type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup prunes counters idle for longer than retention (no-op for Redis).
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
