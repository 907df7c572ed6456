package sim

import (
	"fmt"
	"time"
)

// ObservedSimulation wraps one model with its lifecycle state and, once
// configured with observers, its Observatory. It is the value that flows
// between pipeline stages; each stage works on a deep copy.
type ObservedSimulation struct {
	model       Model
	observatory *Observatory
	state       State
}

// NewObservedSimulation wraps a freshly constructed model in state Unconfigured.
func NewObservedSimulation(m Model) *ObservedSimulation {
	return &ObservedSimulation{model: m, state: Unconfigured}
}

func (o *ObservedSimulation) Model() Model                { return o.model }
func (o *ObservedSimulation) Sim() *Simulation            { return o.model.Sim() }
func (o *ObservedSimulation) Observatory() *Observatory   { return o.observatory }
func (o *ObservedSimulation) State() State                { return o.state }
func (o *ObservedSimulation) ID() string                  { return o.model.Sim().ID() }
func (o *ObservedSimulation) AtOrBeyond(stage State) bool { return o.state >= stage }

// HasNamedObservers reports whether the simulation or any of its agents
// registered a named observer.
func (o *ObservedSimulation) HasNamedObservers() bool {
	return o.model.Sim().HasNamedObservers()
}

// String is the step-qualified id while running, the plain id otherwise.
func (o *ObservedSimulation) String() string {
	if o.state == Running {
		return o.model.Sim().StepID()
	}
	return o.model.Sim().ID()
}

// Clone deep-copies the model and observatory. A clone of a started
// simulation gets a fresh schedule positioned at the same tick.
func (o *ObservedSimulation) Clone() *ObservedSimulation {
	c := &ObservedSimulation{model: o.model.Clone(), state: o.state}
	if o.observatory != nil {
		c.observatory = o.observatory.Clone()
	}
	if o.state >= Ready {
		c.installSchedule(o.model.Sim().Steps())
	}
	return c
}

func (o *ObservedSimulation) expect(op string, want State) error {
	if o.state != want {
		return &PreconditionError{ID: o.ID(), Op: op, Want: want, Got: o.state}
	}
	return nil
}

// Initialise assigns the job date, base seed, configuration and its
// bootstrap id, and derives the seed. Unconfigured → Initialized.
func (o *ObservedSimulation) Initialise(date time.Time, seedBase int64, c Configuration, configBootstrap int) error {
	if err := o.expect("initialise", Unconfigured); err != nil {
		return err
	}
	s := o.model.Sim()
	s.jobDate = date
	s.seedBase = seedBase
	s.config = c
	s.configBootstrap = Int(configBootstrap)
	s.reseed()
	o.state = Initialized
	return nil
}

// Configure runs the structural setup hooks and, when monitor prototypes
// are given, attaches an Observatory observing the simulation and every
// accepting agent. Initialized → Configured.
func (o *ObservedSimulation) Configure(simMonitors, agentMonitors []Observer) error {
	if err := o.expect("configure", Initialized); err != nil {
		return err
	}
	m := o.model
	if err := m.BeginConfiguration(); err != nil {
		return fmt.Errorf("%s: begin configuration: %w", o.ID(), err)
	}
	if err := m.CreateAgents(); err != nil {
		return fmt.Errorf("%s: create agents: %w", o.ID(), err)
	}
	for _, a := range m.Sim().Agents() {
		if err := a.SetupBaseline(m); err != nil {
			return fmt.Errorf("%s: agent %s baseline: %w", o.ID(), a.SubjectID(), err)
		}
	}
	if len(simMonitors) > 0 || len(agentMonitors) > 0 {
		if o.observatory == nil {
			o.observatory = NewObservatory()
		}
		for _, proto := range simMonitors {
			o.observatory.ObserveSimulation(m, proto)
		}
		for _, proto := range agentMonitors {
			o.observatory.ObserveAgents(m, proto)
		}
	}
	if err := m.FinishConfiguration(); err != nil {
		return fmt.Errorf("%s: finish configuration: %w", o.ID(), err)
	}
	o.state = Configured
	return nil
}

// Parameterise assigns the parameterisation and its bootstrap id, reseeds,
// and runs the parameterisation hooks. Configured → Parameterised.
func (o *ObservedSimulation) Parameterise(p Parameterisation, paramBootstrap int) error {
	if err := o.expect("parameterise", Configured); err != nil {
		return err
	}
	s := o.model.Sim()
	s.params, s.current, s.prevParams = p, p, p
	s.paramBootstrap = Int(paramBootstrap)
	s.reseed()

	m := o.model
	if err := m.StartParameterisation(); err != nil {
		return fmt.Errorf("%s: start parameterisation: %w", o.ID(), err)
	}
	for _, a := range s.Agents() {
		if err := a.InitialiseStatus(m); err != nil {
			return fmt.Errorf("%s: agent %s status: %w", o.ID(), a.SubjectID(), err)
		}
	}
	if err := m.FinishParameterisation(); err != nil {
		return fmt.Errorf("%s: finish parameterisation: %w", o.ID(), err)
	}
	o.state = Parameterised
	return nil
}

// Start assigns the execution bootstrap id, reseeds, wires named observers
// into the Observatory and installs the tick hooks. Parameterised → Ready.
func (o *ObservedSimulation) Start(execBootstrap int) error {
	if err := o.expect("start", Parameterised); err != nil {
		return err
	}
	s := o.model.Sim()
	s.execBootstrap = Int(execBootstrap)
	s.reseed()
	if o.HasNamedObservers() {
		if err := o.InitialiseObservatory(); err != nil {
			return err
		}
	}
	s.complete = false
	s.cache.Clear()
	o.installSchedule(0)
	o.state = Ready
	return nil
}

// InitialiseObservatory creates the Observatory if needed and registers the
// named observers of the simulation and its agents with it.
func (o *ObservedSimulation) InitialiseObservatory() error {
	if o.state == Unconfigured {
		return &PreconditionError{ID: o.ID(), Op: "initialise observatory", Want: Initialized, Got: o.state}
	}
	if o.observatory == nil {
		o.observatory = NewObservatory()
	}
	o.observatory.RegisterNamedObservers(o.model)
	return nil
}

// installSchedule wires the tick: pre-tick hook, agents, parameter update,
// named observers, then the observatory.
func (o *ObservedSimulation) installSchedule(steps int64) {
	s := o.model.Sim()
	sched := NewSchedule()
	sched.steps = steps
	sched.AddBefore(StepFunc(preTick))
	for _, a := range s.Agents() {
		id := a.Core().ID()
		sched.ScheduleRepeating(OrderAgents,
			StepFunc(func(m Model) { m.Sim().Agent(id).Step(m) }),
			func(m Model) bool { return m.Sim().Agent(id).RemainsActive(m) })
	}
	sched.ScheduleRepeating(OrderParameters,
		StepFunc(func(m Model) { m.UpdateParameterisation() }),
		func(m Model) bool { return !m.Sim().Complete() })
	sched.AddAfter(StepFunc(updateNamedObservers))
	if o.observatory != nil {
		sched.AddAfter(StepFunc(o.observatory.DoStep))
	}
	s.schedule = sched
}

// preTick recomputes completion, clears caches and snapshots the previous
// parameterisation and the status of every active agent.
func preTick(m Model) {
	s := m.Sim()
	s.complete = m.CheckComplete()
	s.cache.Clear()
	s.prevParams = s.current
	for _, a := range s.agents {
		if a.RemainsActive(m) {
			a.Core().cache.Clear()
			a.CopyStatus()
		}
	}
}

// updateNamedObservers advances agent observers, then simulation observers.
func updateNamedObservers(m Model) {
	s := m.Sim()
	for _, a := range s.agents {
		a.Core().observers.UpdateAll(a)
	}
	s.observers.UpdateAll(m)
}

// step runs one tick.
func (o *ObservedSimulation) step() {
	o.model.Sim().schedule.Step(o.model)
}
