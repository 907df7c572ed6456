package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/flow"
)

// FactoryConfig holds the job-wide inputs of the build stages.
type FactoryConfig struct {
	Date     time.Time
	SeedBase int64
	// Monitors attached to every configured simulation, and to each of its
	// agents the observer accepts.
	SimulationMonitors []sim.Observer
	AgentMonitors      []sim.Observer
	// Cache, if set, is consulted before and written after the configure
	// and parameterise stages.
	Cache *Cache
}

// Factory applies the build stages. Each stage returns a new simulation
// and leaves its input untouched, so one prototype serves every value of
// the next axis. A stage given a simulation already at or beyond its
// target state returns it unchanged.
//
// Thread-safety: the stages may be called concurrently.
type Factory struct {
	cfg FactoryConfig
}

func NewFactory(cfg FactoryConfig) *Factory { return &Factory{cfg: cfg} }

// Prototypes indexes the configured monitors by name, for decoding cached
// snapshots.
func Prototypes(simMonitors, agentMonitors []sim.Observer) sim.Prototypes {
	p := sim.Prototypes{}
	for _, o := range simMonitors {
		p[o.Name()] = o
	}
	for _, o := range agentMonitors {
		p[o.Name()] = o
	}
	return p
}

func cacheable(o *sim.ObservedSimulation) (string, bool) {
	p, ok := o.Model().(sim.Persistent)
	if !ok {
		return "", false
	}
	return p.ModelName(), true
}

// Configure initialises a copy of o with the configuration and its
// bootstrap index, then runs the structural setup hooks and attaches the
// monitors.
func (f *Factory) Configure(ctx context.Context, o *sim.ObservedSimulation, b Bootstrap[sim.Configuration]) (*sim.ObservedSimulation, error) {
	if o.AtOrBeyond(sim.Configured) {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := sim.Key{Date: f.cfg.Date, Configuration: b.Value, ConfigBootstrap: sim.Int(b.Index)}.RelPath(ConfiguredFile)
	model, persistent := cacheable(o)
	if f.cfg.Cache != nil && persistent {
		cached, ok, err := f.cfg.Cache.Load(ctx, key, model, f.cfg.SeedBase)
		if err != nil {
			return nil, err
		}
		if ok && cached.State() == sim.Configured {
			logrus.Debugf("[configure] %s restored from cache", cached.ID())
			flow.MarkCached(ctx)
			return cached, nil
		}
	}

	c := o.Clone()
	if c.State() == sim.Unconfigured {
		if err := c.Initialise(f.cfg.Date, f.cfg.SeedBase, b.Value, b.Index); err != nil {
			return nil, err
		}
	}
	if err := c.Configure(f.cfg.SimulationMonitors, f.cfg.AgentMonitors); err != nil {
		return nil, err
	}
	logrus.Debugf("[configure] %s configured with %d agents", c.ID(), c.Sim().NumAgents())

	if f.cfg.Cache != nil && persistent {
		if err := f.cfg.Cache.Save(ctx, key, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Parameterise applies the parameterisation and its bootstrap index to a
// copy of o and initialises the status of every agent.
func (f *Factory) Parameterise(ctx context.Context, o *sim.ObservedSimulation, b Bootstrap[sim.Parameterisation]) (*sim.ObservedSimulation, error) {
	if o.AtOrBeyond(sim.Parameterised) {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := o.Sim().Key()
	k.Parameterisation, k.ParamBootstrap = b.Value, sim.Int(b.Index)
	key := k.RelPath(ParameterisedFile)
	model, persistent := cacheable(o)
	if f.cfg.Cache != nil && persistent && o.State() == sim.Configured {
		cached, ok, err := f.cfg.Cache.Load(ctx, key, model, f.cfg.SeedBase)
		if err != nil {
			return nil, err
		}
		if ok && cached.State() == sim.Parameterised {
			logrus.Debugf("[parameterise] %s restored from cache", cached.ID())
			flow.MarkCached(ctx)
			return cached, nil
		}
	}

	c := o.Clone()
	if err := c.Parameterise(b.Value, b.Index); err != nil {
		return nil, err
	}
	logrus.Debugf("[parameterise] %s parameterised", c.ID())

	if f.cfg.Cache != nil && persistent {
		if err := f.cfg.Cache.Save(ctx, key, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// BootstrapExecutions gives a copy of o its execution bootstrap index and
// seed, wires its named observers and makes it ready to run.
func (f *Factory) BootstrapExecutions(ctx context.Context, o *sim.ObservedSimulation, execBootstrap int) (*sim.ObservedSimulation, error) {
	if o.AtOrBeyond(sim.Ready) {
		return o, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := o.Clone()
	if err := c.Start(execBootstrap); err != nil {
		return nil, err
	}
	logrus.Debugf("[bootstrap] %s ready, seed %d", c.ID(), c.Sim().Seed())
	return c, nil
}

// Build runs all three stages for a single combination. It is the
// sequential counterpart of the pipeline, used by tests and tools.
func (f *Factory) Build(ctx context.Context, o *sim.ObservedSimulation, c Bootstrap[sim.Configuration], p Bootstrap[sim.Parameterisation], execBootstrap int) (*sim.ObservedSimulation, error) {
	configured, err := f.Configure(ctx, o, c)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", c, err)
	}
	parameterised, err := f.Parameterise(ctx, configured, p)
	if err != nil {
		return nil, fmt.Errorf("parameterise %s: %w", p, err)
	}
	return f.BootstrapExecutions(ctx, parameterised, execBootstrap)
}
