// Package diskstore is a size-capped, versioned store of slot entries on the
// local filesystem.
//
// Each entry lives in its own file named after a hash of the key and encoded
// with the internal wire format, which embeds the key so hash collisions and
// damaged files read as misses. A VERSION file records the schema version and
// slot count; opening with different values wipes every entry. Commits write
// a temp file and rename it into place, so readers never see partial entries.
package diskstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/store"
)

const (
	versionFile = "VERSION"
	entryExt    = ".entry"
	tmpPrefix   = ".tmp-"

	defaultMaxSize = 10 << 20
)

type Options struct {
	Dir        string // required
	Version    uint32
	ValueCount int   // slots per entry; 0 => 1
	MaxSize    int64 // bytes; 0 => 10 MiB
	Logger     logger.Logger
}

type Store struct {
	dir        string
	version    uint32
	valueCount int
	maxSize    int64
	log        logger.Logger

	mu      sync.Mutex
	index   *simplelru.LRU[string, int64] // file name -> size
	size    int64
	editing map[string]struct{}
	closed  bool
}

var _ store.Store = (*Store)(nil)

func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("diskstore: dir is required")
	}
	s := &Store{
		dir:        opts.Dir,
		version:    opts.Version,
		valueCount: opts.ValueCount,
		maxSize:    opts.MaxSize,
		log:        logger.OrNop(opts.Logger),
		editing:    make(map[string]struct{}),
	}
	if s.valueCount <= 0 {
		s.valueCount = 1
	}
	if s.maxSize <= 0 {
		s.maxSize = defaultMaxSize
	}
	idx, err := simplelru.NewLRU[string, int64](math.MaxInt32, s.evicted)
	if err != nil {
		return nil, err
	}
	s.index = idx

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskstore: %w", err)
	}
	if err := s.checkVersion(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) checkVersion() error {
	path := filepath.Join(s.dir, versionFile)
	want := wire.Header{Schema: s.version, Slots: s.valueCount}

	b, err := os.ReadFile(path)
	if err == nil {
		if h, derr := wire.DecodeHeader(b); derr == nil && h == want {
			return nil
		}
		s.log.Info("diskstore version changed; wiping entries", logger.Fields{"dir": s.dir})
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("diskstore: read version: %w", err)
	}

	if err := s.wipe(); err != nil {
		return err
	}
	return writeAtomic(s.dir, path, wire.EncodeHeader(want))
}

func (s *Store) wipe() error {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("diskstore: %w", err)
	}
	for _, de := range des {
		if de.IsDir() || !isOwned(de.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, de.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskstore: wipe: %w", err)
		}
	}
	return nil
}

func isOwned(name string) bool {
	return strings.HasSuffix(name, entryExt) || strings.HasPrefix(name, tmpPrefix)
}

// load rebuilds the LRU index from the files on disk, oldest first.
func (s *Store) load() error {
	des, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("diskstore: %w", err)
	}
	type file struct {
		name string
		size int64
		mod  time.Time
	}
	var files []file
	for _, de := range des {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, tmpPrefix) {
			_ = os.Remove(filepath.Join(s.dir, name)) // abandoned commit
			continue
		}
		if !strings.HasSuffix(name, entryExt) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, file{name: name, size: fi.Size(), mod: fi.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		s.index.Add(f.name, f.size)
		s.size += f.size
	}
	s.trimLocked()
	return nil
}

// evicted runs under s.mu whenever the index drops a file.
func (s *Store) evicted(name string, size int64) {
	s.size -= size
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("diskstore remove failed", logger.Fields{"file": name, "err": err})
	}
}

func (s *Store) trimLocked() {
	for s.size > s.maxSize && s.index.Len() > 0 {
		s.index.RemoveOldest()
	}
}

func fileName(key string) string { return util.FileKey(key) + entryExt }

func (s *Store) Get(_ context.Context, key string) (store.Snapshot, bool, error) {
	name := fileName(key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, store.ErrClosed
	}
	_, ok := s.index.Get(name)
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	path := filepath.Join(s.dir, name)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.forget(name)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("diskstore: read %s: %w", name, err)
	}

	e, err := wire.DecodeEntry(b)
	if err == nil && e.Key != key {
		// hash collision with another key; that entry stays
		return nil, false, nil
	}
	if err != nil || e.Schema != s.version || len(e.Slots) != s.valueCount {
		s.log.Debug("diskstore self-heal", logger.Fields{"key": key, "err": err})
		s.forget(name)
		return nil, false, nil
	}

	now := time.Now()
	_ = os.Chtimes(path, now, now) // keeps LRU order across restarts
	return &store.SlotSnapshot{Slots: e.Slots}, true, nil
}

func (s *Store) forget(name string) {
	s.mu.Lock()
	if !s.index.Remove(name) {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
	s.mu.Unlock()
}

func (s *Store) Edit(_ context.Context, key string) (store.Editor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, store.ErrClosed
	}
	if _, busy := s.editing[key]; busy {
		return nil, false, nil
	}
	s.editing[key] = struct{}{}
	return &editor{s: s, key: key, bufs: store.NewSlotBuffers(s.valueCount)}, true, nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	name := fileName(key)
	if !s.index.Remove(name) {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("diskstore: remove: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Size returns the bytes currently accounted to entries.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Len()
}

func (s *Store) commit(key string, slots [][]byte) error {
	b, err := wire.EncodeEntry(wire.Entry{Schema: s.version, Key: key, Slots: slots})
	if err != nil {
		return err
	}
	name := fileName(key)
	if err := writeAtomic(s.dir, filepath.Join(s.dir, name), b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Add on a present name replaces silently; the file itself was already swapped
	if old, ok := s.index.Peek(name); ok {
		s.size -= old
	}
	s.index.Add(name, int64(len(b)))
	s.size += int64(len(b))
	s.trimLocked()
	return nil
}

func (s *Store) endEdit(key string) {
	s.mu.Lock()
	delete(s.editing, key)
	s.mu.Unlock()
}

type editor struct {
	s    *Store
	key  string
	bufs *store.SlotBuffers
}

func (e *editor) Writer(slot int) (io.Writer, error) { return e.bufs.Writer(slot) }

func (e *editor) Commit() error {
	slots, err := e.bufs.Finish()
	if err != nil {
		return err
	}
	defer e.s.endEdit(e.key)
	return e.s.commit(e.key, slots)
}

func (e *editor) Abort() error {
	if _, err := e.bufs.Finish(); err != nil {
		return err
	}
	e.s.endEdit(e.key)
	return nil
}

func writeAtomic(dir, path string, b []byte) error {
	f, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("diskstore: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(b)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("diskstore: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("diskstore: rename: %w", err)
	}
	return nil
}
