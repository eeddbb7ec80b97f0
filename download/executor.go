// Package download schedules origin fetches on a resizable pool of worker
// goroutines ordered by priority, and coalesces concurrent requests for the
// same locator into one transfer.
package download

import (
	"sync"
	"sync/atomic"

	pq "github.com/emirpasic/gods/queues/priorityqueue"

	"github.com/unkn0wn-root/tiercache/logger"
)

// Task is one unit of scheduled work. Key identifies duplicates; higher
// Priority runs first.
type Task interface {
	Key() string
	Priority() int64
	Run()
}

// PowerLevel selects how many workers the executor keeps running.
type PowerLevel int

const (
	Economy PowerLevel = iota // MinWorkers
	Normal                    // midpoint
	Speed                     // MaxWorkers
)

func (l PowerLevel) String() string {
	switch l {
	case Economy:
		return "economy"
	case Normal:
		return "normal"
	case Speed:
		return "speed"
	default:
		return "unknown"
	}
}

const wrapperPoolLimit = 10

type ExecutorOptions struct {
	Name       string
	MinWorkers int // 0 => 1
	MaxWorkers int // < MinWorkers => MinWorkers
	Level      PowerLevel
	// AllowDuplicates disables per-key dedup; every submission is queued.
	AllowDuplicates bool
	Logger          logger.Logger
}

type ExecutorStats struct {
	Submitted uint64
	Rejected  uint64 // duplicate key without strictly higher priority
	Replaced  uint64 // queued wrapper cancelled by a higher-priority submission
	Ran       uint64
	Skipped   uint64 // dequeued after being cancelled
	Queued    int
	Workers   int
	Level     PowerLevel
}

type wrapper struct {
	task   Task
	prio   int64
	seq    uint64
	canRun atomic.Bool
}

// Executor runs tasks on a goroutine pool whose size follows the current
// PowerLevel. The pool is resized in place: extra workers are started, or
// surplus ones exit after their current task.
type Executor struct {
	name string
	min  int
	max  int
	dup  bool
	log  logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	q       *pq.Queue
	seq     uint64
	pending map[string]*wrapper
	free    []*wrapper
	level   PowerLevel
	target  int
	workers int
	closed  bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	rejected  atomic.Uint64
	replaced  atomic.Uint64
	ran       atomic.Uint64
	skipped   atomic.Uint64
}

// higher priority first; equal priorities in submission order
func byPriority(a, b interface{}) int {
	wa, wb := a.(*wrapper), b.(*wrapper)
	switch {
	case wa.prio > wb.prio:
		return -1
	case wa.prio < wb.prio:
		return 1
	case wa.seq < wb.seq:
		return -1
	case wa.seq > wb.seq:
		return 1
	}
	return 0
}

func NewExecutor(opts ExecutorOptions) *Executor {
	minW := opts.MinWorkers
	if minW <= 0 {
		minW = 1
	}
	maxW := opts.MaxWorkers
	if maxW < minW {
		maxW = minW
	}
	e := &Executor{
		name:    opts.Name,
		min:     minW,
		max:     maxW,
		dup:     opts.AllowDuplicates,
		log:     logger.OrNop(opts.Logger),
		q:       pq.NewWith(byPriority),
		pending: make(map[string]*wrapper),
		level:   opts.Level,
	}
	e.cond = sync.NewCond(&e.mu)

	e.mu.Lock()
	e.resizeLocked(e.workerCount(opts.Level))
	e.mu.Unlock()
	return e
}

func (e *Executor) workerCount(l PowerLevel) int {
	switch l {
	case Economy:
		return e.min
	case Normal:
		return (e.min + e.max) / 2
	case Speed:
		return e.max
	default:
		return 1
	}
}

// Execute queues t. Unless duplicates are allowed, a task whose key is
// already queued is accepted only with a strictly higher priority, and only
// if the queued one can still be cancelled; the cancelled wrapper is
// skipped when dequeued. Returns false when t was not queued.
func (e *Executor) Execute(t Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	prio := t.Priority()
	if !e.dup {
		key := t.Key()
		if old, ok := e.pending[key]; ok {
			// CAS loses to a worker that already started old
			if prio <= old.prio || !old.canRun.CompareAndSwap(true, false) {
				e.rejected.Add(1)
				return false
			}
			e.replaced.Add(1)
			e.log.Debug("download task replaced", logger.Fields{
				"executor": e.name, "key": key, "old": old.prio, "new": prio,
			})
		}
		w := e.wrapLocked(t, prio)
		e.pending[key] = w
		e.q.Enqueue(w)
	} else {
		e.q.Enqueue(e.wrapLocked(t, prio))
	}
	e.submitted.Add(1)
	e.cond.Signal()
	return true
}

func (e *Executor) wrapLocked(t Task, prio int64) *wrapper {
	var w *wrapper
	if n := len(e.free); n > 0 {
		w = e.free[n-1]
		e.free[n-1] = nil
		e.free = e.free[:n-1]
	} else {
		w = &wrapper{}
	}
	e.seq++
	w.task, w.prio, w.seq = t, prio, e.seq
	w.canRun.Store(true)
	return w
}

func (e *Executor) recycle(w *wrapper) {
	w.canRun.Store(false)
	w.task = nil
	e.mu.Lock()
	if len(e.free) < wrapperPoolLimit {
		e.free = append(e.free, w)
	}
	e.mu.Unlock()
}

// Pending reports whether a not-yet-started task for key is queued.
func (e *Executor) Pending(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.pending[key]
	return ok && w.canRun.Load()
}

func (e *Executor) SetPowerLevel(l PowerLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.level == l {
		return
	}
	e.level = l
	e.resizeLocked(e.workerCount(l))
}

func (e *Executor) Level() PowerLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

func (e *Executor) resizeLocked(n int) {
	e.target = n
	for e.workers < e.target {
		e.workers++
		e.wg.Add(1)
		go e.worker()
	}
	// surplus workers notice workers > target and exit
	e.cond.Broadcast()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	e.mu.Lock()
	for {
		for !e.closed && e.workers <= e.target && e.q.Empty() {
			e.cond.Wait()
		}
		if e.closed || e.workers > e.target {
			e.workers--
			e.mu.Unlock()
			return
		}
		v, _ := e.q.Dequeue()
		e.mu.Unlock()

		e.run(v.(*wrapper))
		e.mu.Lock()
	}
}

func (e *Executor) run(w *wrapper) {
	defer e.recycle(w)
	if !w.canRun.CompareAndSwap(true, false) {
		e.skipped.Add(1)
		return
	}
	if !e.dup {
		key := w.task.Key()
		e.mu.Lock()
		if e.pending[key] == w {
			delete(e.pending, key)
		}
		e.mu.Unlock()
	}
	e.ran.Add(1)
	w.task.Run()
}

// Close drops queued tasks and waits for running ones to return.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, v := range e.q.Values() {
		v.(*wrapper).canRun.Store(false)
	}
	e.q.Clear()
	clear(e.pending)
	e.cond.Broadcast()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	queued, workers, level := e.q.Size(), e.workers, e.level
	e.mu.Unlock()
	return ExecutorStats{
		Submitted: e.submitted.Load(),
		Rejected:  e.rejected.Load(),
		Replaced:  e.replaced.Load(),
		Ran:       e.ran.Load(),
		Skipped:   e.skipped.Load(),
		Queued:    queued,
		Workers:   workers,
		Level:     level,
	}
}
