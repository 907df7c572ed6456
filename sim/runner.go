package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SaveFunc persists the final state of a run.
type SaveFunc func(ctx context.Context, o *ObservedSimulation) error

// RunResult summarises one execution.
type RunResult struct {
	ID          string
	Steps       int64
	Interrupted bool
	Duration    time.Duration
}

// Runner executes the tick loop of one ready simulation.
type Runner struct {
	obs    *ObservedSimulation
	target int64
	save   SaveFunc
	ran    bool
}

// NewRunner creates a runner. A target > 0 stops the run once that many
// ticks have completed; save, if non-nil, is called after completion.
func NewRunner(o *ObservedSimulation, target int64, save SaveFunc) *Runner {
	return &Runner{obs: o, target: target, save: save}
}

// Simulation returns the simulation being run.
func (r *Runner) Simulation() *ObservedSimulation { return r.obs }

// Run moves the simulation Ready → Running, steps it until the model
// reports completion, the target is reached, or ctx is cancelled, then
// marks it Complete. Cancellation is checked before each tick and is not
// an error. Panics if called more than once.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	if r.ran {
		panic("Runner.Run() called more than once")
	}
	r.ran = true

	o := r.obs
	if err := o.expect("run", Ready); err != nil {
		return RunResult{}, err
	}
	start := time.Now()
	o.state = Running
	s := o.model.Sim()
	logrus.Debugf("[run] %s started", o.ID())

	interrupted := false
	for {
		if ctx.Err() != nil {
			interrupted = true
			logrus.Infof("[run] %s interrupted at tick %d", o.ID(), s.Steps())
			break
		}
		o.step()
		if s.Complete() {
			break
		}
		if r.target > 0 && s.Steps() >= r.target {
			break
		}
	}
	o.state = Complete
	res := RunResult{ID: o.ID(), Steps: s.Steps(), Interrupted: interrupted, Duration: time.Since(start)}
	logrus.Debugf("[run] %s complete after %d ticks in %s", o.ID(), res.Steps, res.Duration)

	if r.save != nil {
		// Interrupted runs still persist their final state.
		if err := r.save(context.WithoutCancel(ctx), o); err != nil {
			return res, fmt.Errorf("%s: save final state: %w", o.ID(), err)
		}
	}
	return res, nil
}
