package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/logger"
	"github.com/unkn0wn-root/tiercache/namedlock"
	"github.com/unkn0wn-root/tiercache/origin"
)

var (
	ErrClosed  = errors.New("download: controller closed")
	ErrLocator = errors.New("download: empty locator")
	// ErrTimeout is returned by Fetch when the transfer outlives the wait.
	ErrTimeout = fmt.Errorf("download: wait timed out: %w", context.DeadlineExceeded)
)

// FetchError is the terminal failure delivered to listeners.
type FetchError struct {
	Locator  string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("download: %s failed after %d attempt(s): %v", e.Locator, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Listener receives the single outcome of a coalesced download. Wanted is
// consulted right before delivery; a listener that no longer wants the
// result is skipped.
type Listener interface {
	Wanted() bool
	Done(path string, err error)
}

// ListenerFunc is a Listener that always wants its result.
type ListenerFunc func(path string, err error)

func (f ListenerFunc) Wanted() bool                { return true }
func (f ListenerFunc) Done(path string, err error) { f(path, err) }

const (
	tempPrefix         = ".dl-"
	defaultPermits     = 10
	defaultMaxAttempts = 5
	defaultTimeout     = 30 * time.Second
	defaultSweep       = time.Hour
	permitPenalty      = 100
	retryPenalty       = 1000
)

type Options struct {
	Dir     string         // required; downloaded files land here
	Fetcher origin.Fetcher // required

	MinWorkers int        // 0 => 1
	MaxWorkers int        // 0 => 4
	Level      PowerLevel // initial level; zero is Economy

	// Permits bounds the total permit cost of simultaneous transfers.
	Permits int64 // 0 => 10
	// PermitCost returns the cost of one transfer. nil => 1.
	PermitCost func(locator string) int64

	MaxAttempts int           // per high-priority locator; 0 => 5
	Timeout     time.Duration // Fetch wait; 0 => 30s

	// Retention > 0 enables a sweep of downloaded files older than it.
	Retention       time.Duration
	CleanupInterval time.Duration // 0 => 1h

	Logger logger.Logger
}

type Stats struct {
	Fetches  uint64 // transfers started
	Failures uint64 // terminal failures
	Retries  uint64
	InFlight int // locators with registered listeners
	Executor ExecutorStats
}

// Controller downloads origin artifacts into Dir. Requests are keyed by
// locator: every listener registered for a locator while its download is
// queued or running receives the same outcome.
type Controller struct {
	dir         string
	fetcher     origin.Fetcher
	exec        *Executor
	locks       *namedlock.Pool
	sem         *semaphore.Weighted
	permits     int64
	cost        func(string) int64
	maxAttempts int
	timeout     time.Duration
	log         logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lmu     sync.Mutex
	flights map[string]*flight
	closed  bool

	pmu  sync.Mutex
	high int64
	low  int64

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	fetches  atomic.Uint64
	failures atomic.Uint64
	retries  atomic.Uint64
}

func New(opts Options) (*Controller, error) {
	if opts.Dir == "" {
		return nil, errors.New("download: dir is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("download: fetcher is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	maxW := opts.MaxWorkers
	if maxW <= 0 {
		maxW = 4
	}
	permits := opts.Permits
	if permits <= 0 {
		permits = defaultPermits
	}
	c := &Controller{
		dir:         opts.Dir,
		fetcher:     opts.Fetcher,
		locks:       namedlock.New(namedlock.Options{}),
		sem:         semaphore.NewWeighted(permits),
		permits:     permits,
		cost:        opts.PermitCost,
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		log:         logger.OrNop(opts.Logger),
		flights:     make(map[string]*flight),
		high:        int64(^uint64(0) >> 1),
		stop:        make(chan struct{}),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.cost == nil {
		c.cost = func(string) int64 { return 1 }
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.exec = NewExecutor(ExecutorOptions{
		Name:       "download",
		MinWorkers: opts.MinWorkers,
		MaxWorkers: maxW,
		Level:      opts.Level,
		Logger:     c.log,
	})

	if opts.Retention > 0 {
		every := opts.CleanupInterval
		if every <= 0 {
			every = defaultSweep
		}
		c.wg.Add(1)
		go c.sweepLoop(every, opts.Retention)
	}
	return c, nil
}

// Path is where the artifact for locator is (or will be) stored.
func (c *Controller) Path(locator string) string {
	return filepath.Join(c.dir, util.FileKey(locator))
}

// Exists reports whether locator is downloaded and not being refreshed.
func (c *Controller) Exists(locator string) bool {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	if _, busy := c.flights[locator]; busy {
		return false
	}
	return fileExists(c.Path(locator))
}

// Load delivers the downloaded path for locator to l, immediately when the
// file is already present, otherwise after a high-priority download.
func (c *Controller) Load(locator string, l Listener) {
	if locator == "" {
		notify(l, "", ErrLocator)
		return
	}
	if c.Exists(locator) {
		notify(l, c.Path(locator), nil)
		return
	}
	submit, ok := c.register(locator, l, true)
	if !ok {
		notify(l, "", ErrClosed)
		return
	}
	if submit {
		c.submit(locator, true)
	}
}

// Prefetch queues a low-priority download nobody waits on. It returns false
// when the file is present or the download could not be queued.
func (c *Controller) Prefetch(locator string) bool {
	if locator == "" || c.Exists(locator) {
		return false
	}
	submit, ok := c.register(locator, nil, false)
	if !ok || !submit {
		return false
	}
	return c.submit(locator, false)
}

type waiter struct {
	ctx context.Context
	ch  chan result
}

type result struct {
	path string
	err  error
}

func (w *waiter) Wanted() bool { return w.ctx.Err() == nil }

func (w *waiter) Done(path string, err error) {
	select {
	case w.ch <- result{path, err}:
	default:
	}
}

// Fetch blocks until locator is downloaded, the wait times out, or ctx is
// done. Cancellation is checked once more after a result arrives.
func (c *Controller) Fetch(ctx context.Context, locator string) (string, error) {
	w := &waiter{ctx: ctx, ch: make(chan result, 1)}
	c.Load(locator, w)

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case r := <-w.ch:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return r.path, r.err
	case <-t.C:
		return "", ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// flight is the shared state of one locator between the first request and
// the final outcome.
type flight struct {
	listeners []Listener
	high      bool
}

// register attaches l to the flight for locator. submit is true when no
// task covers the request yet: a new flight, or a high-priority request
// joining a low-priority one.
func (c *Controller) register(locator string, l Listener, high bool) (submit, ok bool) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	if c.closed {
		return false, false
	}
	f, exists := c.flights[locator]
	if !exists {
		f = &flight{}
		c.flights[locator] = f
	}
	if l != nil {
		f.listeners = append(f.listeners, l)
	}
	if !exists || (high && !f.high) {
		f.high = f.high || high
		return true, true
	}
	return false, true
}

func (c *Controller) take(locator string) []Listener {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	f, ok := c.flights[locator]
	if !ok {
		return nil
	}
	delete(c.flights, locator)
	return f.listeners
}

// nextPriority hands out strictly descending numbers per class, so older
// requests of the same class run first.
func (c *Controller) nextPriority(high bool) int64 {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if high {
		p := c.high
		c.high--
		return p
	}
	p := c.low
	c.low--
	return p
}

func (c *Controller) submit(locator string, high bool) bool {
	permits := c.cost(locator)
	if permits < 1 {
		permits = 1
	}
	if permits > c.permits {
		permits = c.permits
	}
	t := &task{c: c, locator: locator, high: high, permits: permits}
	t.reset()
	return c.exec.Execute(t)
}

type task struct {
	c        *Controller
	locator  string
	high     bool
	permits  int64
	attempts int
	prio     int64
	created  time.Time
}

func (t *task) Key() string     { return t.locator }
func (t *task) Priority() int64 { return t.prio }
func (t *task) Run()            { t.c.run(t) }

// reset assigns a fresh priority: heavier and more retried tasks sink.
func (t *task) reset() {
	t.prio = t.c.nextPriority(t.high) - permitPenalty*t.permits - retryPenalty*int64(t.attempts)
	t.created = time.Now()
}

func (c *Controller) run(t *task) {
	if err := c.locks.Lock(c.ctx, t.locator); err != nil {
		c.finish(t.locator, "", err)
		return
	}
	defer c.locks.Unlock(t.locator)

	t.attempts++
	c.exec.SetPowerLevel(LevelFor(t.high, time.Since(t.created)))

	path := c.Path(t.locator)
	if fileExists(path) {
		c.finish(t.locator, path, nil)
		return
	}
	if err := c.download(t, path); err != nil {
		c.log.Warn("download failed", logger.Fields{
			"locator": t.locator, "attempt": t.attempts, "err": err,
		})
		// a queued submission for the locator reports instead
		if c.retry(t) || c.exec.Pending(t.locator) {
			return
		}
		c.failures.Add(1)
		c.finish(t.locator, "", &FetchError{Locator: t.locator, Attempts: t.attempts, Err: err})
		return
	}
	c.finish(t.locator, path, nil)
}

func (c *Controller) download(t *task, path string) (err error) {
	if err := c.sem.Acquire(c.ctx, t.permits); err != nil {
		return err
	}
	defer c.sem.Release(t.permits)
	c.fetches.Add(1)

	f, err := os.CreateTemp(c.dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 8<<10)
	err = c.fetcher.Fetch(c.ctx, t.locator, bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// retry resubmits a failed high-priority task with decayed priority.
// Listeners are left registered for the next attempt.
func (c *Controller) retry(t *task) bool {
	if !t.high || t.attempts >= c.maxAttempts || c.ctx.Err() != nil {
		return false
	}
	t.reset()
	if !c.exec.Execute(t) {
		return false
	}
	c.retries.Add(1)
	return true
}

func (c *Controller) finish(locator, path string, err error) {
	for _, l := range c.take(locator) {
		if l.Wanted() {
			l.Done(path, err)
		}
	}
}

func notify(l Listener, path string, err error) {
	if l != nil && l.Wanted() {
		l.Done(path, err)
	}
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (c *Controller) sweepLoop(every, retention time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n, err := c.Sweep(retention); err != nil {
				c.log.Warn("download sweep failed", logger.Fields{"err": err})
			} else if n > 0 {
				c.log.Debug("download sweep", logger.Fields{"removed": n})
			}
		case <-c.stop:
			return
		}
	}
}

// Sweep removes downloaded files not modified within olderThan. Files being
// written are skipped.
func (c *Controller) Sweep(olderThan time.Duration) (int, error) {
	ents, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, de := range ents {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.dir, de.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Close cancels transfers, stops the workers and fails every listener
// still waiting with ErrClosed.
func (c *Controller) Close() error {
	c.once.Do(func() {
		c.lmu.Lock()
		c.closed = true
		c.lmu.Unlock()

		c.cancel()
		close(c.stop)
		c.exec.Close()
		c.wg.Wait()

		c.lmu.Lock()
		left := c.flights
		c.flights = make(map[string]*flight)
		c.lmu.Unlock()
		for _, f := range left {
			for _, l := range f.listeners {
				notify(l, "", ErrClosed)
			}
		}
	})
	return nil
}

func (c *Controller) Stats() Stats {
	c.lmu.Lock()
	inflight := len(c.flights)
	c.lmu.Unlock()
	return Stats{
		Fetches:  c.fetches.Load(),
		Failures: c.failures.Load(),
		Retries:  c.retries.Load(),
		InFlight: inflight,
		Executor: c.exec.Stats(),
	}
}
