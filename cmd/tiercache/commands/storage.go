package commands

import (
	"fmt"
	"path/filepath"

	"github.com/unkn0wn-root/tiercache/config"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/provider"
	badgerprov "github.com/unkn0wn-root/tiercache/provider/badger"
	bigcacheprov "github.com/unkn0wn-root/tiercache/provider/bigcache"
	redisprov "github.com/unkn0wn-root/tiercache/provider/redis"
	ristrettoprov "github.com/unkn0wn-root/tiercache/provider/ristretto"
	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/store/diskstore"
	"github.com/unkn0wn-root/tiercache/store/kvstore"
)

// openStore returns the persistent tier for one artifact kind, or nil for
// backend "none". Stores are shared through reg by backend and namespace.
func openStore(cfg config.DiskConfig, namespace string, slots int, log logger.Logger, reg *store.Registry) (store.Store, error) {
	log = logger.OrNop(log)
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "file":
		dir := filepath.Join(cfg.Dir, namespace)
		return reg.Open("file:"+dir, func() (store.Store, error) {
			s, err := diskstore.Open(diskstore.Options{
				Dir:        dir,
				Version:    cfg.Version,
				ValueCount: slots,
				MaxSize:    int64(cfg.MaxSize),
				Logger:     log,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	}

	return reg.Open(cfg.Backend+":"+namespace, func() (store.Store, error) {
		p, gen, err := openProvider(cfg, namespace, log)
		if err != nil {
			return nil, err
		}
		s, err := kvstore.New(kvstore.Options{
			Namespace:  namespace,
			Provider:   p,
			Schema:     cfg.Version,
			ValueCount: slots,
			TTL:        cfg.TTL,
			GenStore:   gen,
			Logger:     log,
			Hooks:      kvHooks{log},
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// openProvider returns the byte store for a kv backend. gen is nil when the
// local generation store fits.
func openProvider(cfg config.DiskConfig, namespace string, log logger.Logger) (provider.Provider, genstore.GenStore, error) {
	switch cfg.Backend {
	case "badger":
		p, err := badgerprov.New(badgerprov.Config{
			Dir:    filepath.Join(cfg.Dir, "badger", namespace),
			Logger: badgerLogger{log},
		})
		return p, nil, err

	case "redis":
		p, err := redisprov.New(redisprov.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		// counters outlive the entries they guard
		genTTL := cfg.TTL
		if genTTL > 0 {
			genTTL *= 2
		}
		return p, genstore.NewRedisGenStore(p.Client(), namespace, genTTL), nil

	case "ristretto":
		p, err := ristrettoprov.New(ristrettoprov.Config{MaxBytes: int64(cfg.MaxSize)})
		return p, nil, err

	case "bigcache":
		p, err := bigcacheprov.New(bigcacheprov.Config{TTL: cfg.TTL, MaxBytes: int64(cfg.MaxSize)})
		return p, nil, err
	}
	return nil, nil, fmt.Errorf("disk: unknown backend %q", cfg.Backend)
}

// kvHooks logs kvstore events.
type kvHooks struct{ log logger.Logger }

func (h kvHooks) SelfHeal(storageKey, reason string) {
	h.log.Debug("disk entry removed", logger.Fields{"key": storageKey, "reason": reason})
}

func (h kvHooks) ProviderSetRejected(storageKey string) {
	h.log.Debug("disk write rejected", logger.Fields{"key": storageKey})
}

func (h kvHooks) RemoveOutage(key string, bumpErr, delErr error) {
	h.log.Warn("disk remove failed", logger.Fields{"key": key, "bump_err": bumpErr, "del_err": delErr})
}

// badgerLogger forwards badger's printf-style logs. Info and debug output
// is noisy, so both go to debug.
type badgerLogger struct{ log logger.Logger }

func (b badgerLogger) Errorf(f string, args ...interface{}) {
	b.log.Error(fmt.Sprintf(f, args...), nil)
}

func (b badgerLogger) Warningf(f string, args ...interface{}) {
	b.log.Warn(fmt.Sprintf(f, args...), nil)
}

func (b badgerLogger) Infof(f string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(f, args...), nil)
}

func (b badgerLogger) Debugf(f string, args ...interface{}) {
	b.log.Debug(fmt.Sprintf(f, args...), nil)
}
