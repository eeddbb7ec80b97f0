// Package badger keeps kvstore entries in an embedded badger database, so the
// persistent tier survives restarts without a filesystem layout of its own.
package badger

import (
	"context"
	"errors"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

var ErrNoPath = errors.New("badger provider: dir is required unless InMemory is set")

type Provider struct {
	db      *badgerdb.DB
	closeDB bool
	once    sync.Once
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	// DB reuses an already open database; Dir and InMemory are ignored.
	DB *badgerdb.DB
	// CloseDB closes a supplied DB on Close.
	CloseDB bool

	Dir      string
	InMemory bool
	// Logger receives badger's internal logs. nil silences them.
	Logger badgerdb.Logger
}

func New(cfg Config) (*Provider, error) {
	if cfg.DB != nil {
		return &Provider{db: cfg.DB, closeDB: cfg.CloseDB}, nil
	}
	var opts badgerdb.Options
	switch {
	case cfg.InMemory:
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	case cfg.Dir != "":
		opts = badgerdb.DefaultOptions(cfg.Dir)
	default:
		return nil, ErrNoPath
	}
	opts = opts.WithLogger(cfg.Logger)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Provider{db: db, closeDB: true}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := p.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	err := p.db.Update(func(txn *badgerdb.Txn) error {
		e := badgerdb.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	return p.db.Update(func(txn *badgerdb.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (p *Provider) Close(context.Context) error {
	if !p.closeDB {
		return nil
	}
	var err error
	p.once.Do(func() { err = p.db.Close() })
	return err
}
