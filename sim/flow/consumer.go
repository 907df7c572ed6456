package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/ledger"
)

// ConsumerConfig configures what a Consumer does with each ready
// simulation.
type ConsumerConfig struct {
	// Target stops each run after that many ticks; 0 runs to completion.
	Target int64
	// Save persists the final state of each run. Optional.
	Save sim.SaveFunc
	// Writers receive the observations of every run that completed.
	Writers []*ResultWriter
	// Ledger records every execution. Optional.
	Ledger ledger.Recorder
	JobID  string
}

// Summary counts the executions a Consumer handled.
type Summary struct {
	Admitted    int64
	Completed   int
	Interrupted int
	Failed      int
}

// Consumer is the terminal subscriber of the pipeline. It admits ready
// simulations through its Monitor, runs each on the pool, exports results,
// and returns the admission slot once the run has settled.
type Consumer struct {
	cfg     ConsumerConfig
	pool    *Pool
	monitor *Monitor
	metrics *Metrics
	ctx     context.Context

	wg      sync.WaitGroup
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	err     error
	summary Summary
}

// NewConsumer creates a consumer running simulations on pool, admitted by
// monitor. Runs receive contexts derived from ctx.
func NewConsumer(ctx context.Context, pool *Pool, monitor *Monitor, cfg ConsumerConfig, metrics *Metrics) *Consumer {
	return &Consumer{
		cfg:     cfg,
		pool:    pool,
		monitor: monitor,
		metrics: metrics,
		ctx:     ctx,
		done:    make(chan struct{}),
	}
}

// OnSubscribe starts the admission monitor on sub.
func (c *Consumer) OnSubscribe(sub Subscription) {
	c.monitor.Attach(sub)
	go c.monitor.Run(c.ctx)
}

// OnNext runs one admitted simulation. It does not block. Simulations
// arriving after Wait has stopped accepting work count as interrupted.
func (c *Consumer) OnNext(o *sim.ObservedSimulation) {
	c.mu.Lock()
	if c.closed {
		c.summary.Interrupted++
		c.mu.Unlock()
		c.monitor.Release()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	f := c.pool.Submit(c.ctx, func(ctx context.Context) error {
		c.execute(ctx, o)
		return nil
	})
	go c.settle(f)
}

func (c *Consumer) settle(f *Future) {
	defer c.wg.Done()
	if err := f.Wait(); err != nil {
		// Never started: the pipeline was cancelled while queued.
		c.mu.Lock()
		c.summary.Interrupted++
		c.mu.Unlock()
	}
	c.monitor.Release()
}

func (c *Consumer) OnError(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.finish()
}

func (c *Consumer) OnComplete() { c.finish() }

func (c *Consumer) finish() {
	c.monitor.UpstreamDone()
	c.once.Do(func() { close(c.done) })
}

// Wait blocks until upstream has finished and every admitted simulation
// has settled. When ctx is done it stops accepting work and still waits for
// the runs in flight, which end at their next tick as interrupted.
// Cancellation is not an error; Wait returns the first other pipeline error.
func (c *Consumer) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		logrus.Infof("[consumer] cancelled, waiting for runs in flight")
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return c.summaryLocked(), err
}

// Summary reports the executions handled so far.
func (c *Consumer) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

func (c *Consumer) summaryLocked() Summary {
	s := c.summary
	s.Admitted = c.monitor.Admitted()
	return s
}

// execute runs o and exports its observations. Failures are logged and
// counted; they never fail the pipeline.
func (c *Consumer) execute(ctx context.Context, o *sim.ObservedSimulation) {
	started := time.Now()
	rec := ledger.RunRecord{
		JobID:        c.cfg.JobID,
		SimulationID: o.ID(),
		Seed:         o.Sim().Seed(),
		Started:      started.UTC(),
	}

	res, err := sim.NewRunner(o, c.cfg.Target, c.cfg.Save).Run(ctx)
	if err == nil && !res.Interrupted {
		for _, w := range c.cfg.Writers {
			if werr := w.Export(o); werr != nil {
				err = werr
				break
			}
		}
	}
	rec.Steps = res.Steps
	rec.Duration = time.Since(started)

	c.mu.Lock()
	switch {
	case err != nil:
		rec.Outcome = ledger.OutcomeFailed
		rec.Error = err.Error()
		c.summary.Failed++
	case res.Interrupted:
		rec.Outcome = ledger.OutcomeInterrupted
		c.summary.Interrupted++
	default:
		rec.Outcome = ledger.OutcomeCompleted
		c.summary.Completed++
	}
	c.mu.Unlock()

	if err != nil {
		logrus.Errorf("[consumer] %s failed: %v", rec.SimulationID, err)
	} else {
		logrus.Debugf("[consumer] %s %s after %d ticks", rec.SimulationID, rec.Outcome, rec.Steps)
	}
	c.metrics.observeRun(string(rec.Outcome), rec.Duration)
	if c.cfg.Ledger != nil {
		if lerr := c.cfg.Ledger.Record(context.WithoutCancel(ctx), rec); lerr != nil {
			logrus.Warnf("[consumer] ledger: %v", lerr)
		}
	}
}
