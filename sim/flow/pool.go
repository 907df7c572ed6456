package flow

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool runs tasks on at most Size goroutines at once.
type Pool struct {
	name   string
	size   int64
	sem    *semaphore.Weighted
	active atomic.Int64
	queued atomic.Int64
	wg     sync.WaitGroup
	gauge  func(active int64)
}

// NewPool creates a pool of size workers. Panics if size < 1.
func NewPool(name string, size int) *Pool {
	if size < 1 {
		panic("flow: pool size must be >= 1")
	}
	return &Pool{name: name, size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Size() int    { return int(p.size) }

// Active is the number of tasks currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Queued is the number of submitted tasks waiting for a slot.
func (p *Pool) Queued() int { return int(p.queued.Load()) }

// Idle is the number of free slots not claimed by queued tasks.
func (p *Pool) Idle() int {
	idle := p.size - p.active.Load() - p.queued.Load()
	if idle < 0 {
		return 0
	}
	return int(idle)
}

// Future is the pending result of a submitted task.
type Future struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Done is closed when the task has finished or was abandoned.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Cancel cancels the task context. A running task sees ctx.Err() and may
// stop early; a queued task never starts.
func (f *Future) Cancel() { f.cancel() }

// Submit schedules task without blocking the caller. The task receives a
// context derived from ctx that Future.Cancel also cancels.
func (p *Pool) Submit(ctx context.Context, task func(ctx context.Context) error) *Future {
	tctx, cancel := context.WithCancel(ctx)
	f := &Future{done: make(chan struct{}), cancel: cancel}
	p.queued.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)
		defer cancel()
		if err := p.sem.Acquire(tctx, 1); err != nil {
			p.queued.Add(-1)
			f.err = err
			return
		}
		p.queued.Add(-1)
		p.report(p.active.Add(1))
		defer func() {
			p.report(p.active.Add(-1))
			p.sem.Release(1)
		}()
		f.err = task(tctx)
	}()
	return f
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) report(active int64) {
	if p.gauge != nil {
		p.gauge(active)
	}
}
