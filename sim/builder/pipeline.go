package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/blob"
	"github.com/ai4ci/jpansim4r/sim/flow"
	"github.com/ai4ci/jpansim4r/sim/ledger"
	"github.com/ai4ci/jpansim4r/sim/trace"
)

// RunOptions supplies process-wide collaborators of a job run. Zero
// fields are created from the job.
type RunOptions struct {
	Metrics *flow.Metrics
	// Probe overrides the free-memory probe of the admission monitor.
	Probe flow.MemoryProbe
	// Store overrides the cache store selected by the job.
	Store blob.Store
	// Ledger overrides the ledger selected by the job. It is not closed.
	Ledger ledger.Store
	// SimulationMonitors and AgentMonitors are attached to every
	// configured simulation.
	SimulationMonitors []sim.Observer
	AgentMonitors      []sim.Observer
}

// Result describes a finished job run.
type Result struct {
	JobID    string
	Summary  flow.Summary
	Trace    *trace.TraceSummary
	Duration time.Duration
}

// Run executes job: every configuration × configuration bootstrap ×
// parameterisation × parameterisation bootstrap × execution bootstrap is
// built, run and exported. Branches that fail to build are skipped or halt
// the job, following the job's error policy; failed runs are counted in
// the summary.
func Run(ctx context.Context, job *Job, opts RunOptions) (res *Result, err error) {
	start := time.Now()
	configs, params, err := job.Decode()
	if err != nil {
		return nil, err
	}
	date, err := job.ParsedDate()
	if err != nil {
		return nil, err
	}
	spec, _ := sim.LookupModel(job.Model)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	res = &Result{JobID: id.String()}
	logrus.Infof("[job %s] %s: model %s, %d configurations, %d parameterisations, %d threads",
		res.JobID, job.Name, job.Model, len(configs), len(params), job.Threads)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cache *Cache
	if job.Cache.Enabled {
		store := opts.Store
		if store == nil {
			cfg := job.Cache.Config
			if cfg.Root == "" {
				cfg.Root = filepath.Join(job.Directory, "cache")
			}
			if store, err = blob.Open(ctx, cfg); err != nil {
				return nil, fmt.Errorf("open cache: %w", err)
			}
		}
		cache = NewCache(store, Prototypes(opts.SimulationMonitors, opts.AgentMonitors))
	}

	runs := opts.Ledger
	if runs == nil {
		if runs, err = ledger.Open(ctx, job.Ledger.Driver, job.Ledger.DSN); err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		defer func() { err = errors.Join(err, runs.Close()) }()
	}

	writers := make([]*flow.ResultWriter, 0, len(job.Outputs))
	defer func() {
		for _, w := range writers {
			err = errors.Join(err, w.Close())
		}
	}()
	for _, out := range job.Outputs {
		w, werr := flow.CreateResultFile(filepath.Join(job.Directory, out.File), out.Columns)
		if werr != nil {
			return nil, werr
		}
		writers = append(writers, w)
	}

	factory := NewFactory(FactoryConfig{
		Date:               date,
		SeedBase:           job.Seed,
		SimulationMonitors: opts.SimulationMonitors,
		AgentMonitors:      opts.AgentMonitors,
		Cache:              cache,
	})
	pt := trace.NewPipelineTrace(trace.TraceConfig{Level: trace.TraceLevel(job.Trace)})
	build := flow.NewPool("build", job.Threads)
	run := flow.NewPool("run", job.Threads)
	opts.Metrics.WatchPool(build)
	opts.Metrics.WatchPool(run)
	stageOpts := []flow.StageOption{
		flow.WithErrorPolicy(flow.ParseErrorPolicy(job.ErrorPolicy)),
		flow.WithMetrics(opts.Metrics),
		flow.WithTrace(pt),
	}

	configured := flow.NewStage[*sim.ObservedSimulation, Bootstrap[sim.Configuration]](ctx, "configure",
		flow.NewSupplier(sim.NewObservedSimulation(spec.New())),
		factory.Configure, Bootstraps(job.Bootstraps.Configuration, configs...), build, stageOpts...)
	parameterised := flow.NewStage[*sim.ObservedSimulation, Bootstrap[sim.Parameterisation]](ctx, "parameterise", configured,
		factory.Parameterise, Bootstraps(job.Bootstraps.Parameterisation, params...), build, stageOpts...)
	ready := flow.NewStage[*sim.ObservedSimulation, int](ctx, "bootstrap", parameterised,
		factory.BootstrapExecutions, Replicates(job.Bootstraps.Execution), build, stageOpts...)

	monitor := flow.NewMonitor(run, flow.MonitorConfig{
		Threshold:       job.Monitor.MemoryThresholdMB << 20,
		Interval:        job.Monitor.Interval,
		SummaryInterval: job.Monitor.SummaryInterval,
		Probe:           opts.Probe,
	}, opts.Metrics, pt)
	consumerCfg := flow.ConsumerConfig{
		Target:  job.TargetSteps,
		Writers: writers,
		Ledger:  runs,
		JobID:   res.JobID,
	}
	if cache != nil && job.Cache.SaveFinal {
		consumerCfg.Save = cache.SaveFinal()
	}
	consumer := flow.NewConsumer(ctx, run, monitor, consumerCfg, opts.Metrics)

	ready.Subscribe(consumer)
	res.Summary, err = consumer.Wait(ctx)
	cancel()
	build.Wait()
	run.Wait()

	res.Trace = trace.Summarize(pt)
	res.Duration = time.Since(start)
	s := res.Summary
	logrus.Infof("[job %s] finished in %s: %d admitted, %d completed, %d interrupted, %d failed",
		res.JobID, res.Duration.Round(time.Millisecond), s.Admitted, s.Completed, s.Interrupted, s.Failed)
	return res, err
}
