package tiercache

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// Executor runs the blocking half of Load in the background and delivers
// results in the completion context (an event loop, or wherever suits the
// caller).
type Executor interface {
	Background(f func())
	Complete(f func())
}

// GoExecutor starts a goroutine per Load and completes on it.
type GoExecutor struct{}

func (GoExecutor) Background(f func()) { go f() }
func (GoExecutor) Complete(f func())   { f() }

// InlineExecutor runs everything on the calling goroutine. Load then blocks
// like Get; mostly useful in tests.
type InlineExecutor struct{}

func (InlineExecutor) Background(f func()) { f() }
func (InlineExecutor) Complete(f func())   { f() }

// LimitExecutor bounds the number of background loads running at once.
// Background blocks while the limit is reached.
type LimitExecutor struct {
	g errgroup.Group
}

func NewLimitExecutor(limit int) *LimitExecutor {
	e := &LimitExecutor{}
	if limit > 0 {
		e.g.SetLimit(limit)
	}
	return e
}

func (e *LimitExecutor) Background(f func()) {
	e.g.Go(func() error {
		f()
		return nil
	})
}

func (e *LimitExecutor) Complete(f func()) { f() }

// Wait blocks until every background load has returned.
func (e *LimitExecutor) Wait() { _ = e.g.Wait() }

// Loop completes on a single goroutine in submission order, the way a UI
// thread would. Completions submitted after Close are dropped.
type Loop struct {
	fns    chan func()
	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewLoop(buffer int) *Loop {
	l := &Loop{
		fns:    make(chan func(), buffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case f := <-l.fns:
			f()
		case <-l.closed:
			return
		}
	}
}

func (l *Loop) Background(f func()) { go f() }

func (l *Loop) Complete(f func()) {
	select {
	case l.fns <- f:
	case <-l.closed:
	}
}

// Close stops the loop after the completion in progress, if any.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.closed)
		<-l.done
	})
}
