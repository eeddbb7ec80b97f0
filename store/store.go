// Package store defines the persistent tier: entries with a fixed number of
// byte slots, read through snapshots and written through editors that either
// commit as a whole or leave no trace.
//
// Slot 0 carries the raw payload by convention; slot 1, when present,
// carries metadata.
package store

import (
	"context"
	"errors"
	"io"
)

var (
	ErrSlot   = errors.New("store: slot out of range")
	ErrClosed = errors.New("store: closed")
	ErrDone   = errors.New("store: editor already committed or aborted")
)

// Snapshot is a consistent view of one entry.
type Snapshot interface {
	Reader(slot int) (io.Reader, error)
	Close() error
}

// Editor stages a new version of one entry. Exactly one of Commit or Abort
// must be called.
type Editor interface {
	Writer(slot int) (io.Writer, error)
	Commit() error
	Abort() error
}

type Store interface {
	// Get returns (snapshot, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) (Snapshot, bool, error)
	// Edit returns ok=false when another edit of key is in progress.
	Edit(ctx context.Context, key string) (Editor, bool, error)
	Remove(ctx context.Context, key string) error
	Close() error
}
