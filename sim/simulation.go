package sim

import (
	"fmt"
	"time"

	"github.com/ai4ci/jpansim4r/sim/stats"
)

// Simulation is the state shared by every model: identity, seeds, the
// agent population, named observers and the tick schedule. Domain models
// embed *Simulation and are handed to the builder as a Model.
type Simulation struct {
	jobDate  time.Time
	seedBase int64
	seed     int64
	sampler  *stats.Sampler

	config          Configuration
	params          Parameterisation
	current         Parameterisation
	prevParams      Parameterisation
	configBootstrap *int
	paramBootstrap  *int
	execBootstrap   *int

	agents    []Agent
	observers ObserverSet
	cache     TickCache

	complete bool
	schedule *Schedule
}

// NewSimulation creates an empty simulation.
func NewSimulation() *Simulation {
	return &Simulation{sampler: stats.NewSampler(0)}
}

// Sim returns the receiver; it lets embedding models satisfy Model.
func (s *Simulation) Sim() *Simulation { return s }

// SubjectID is the identity string of the simulation.
func (s *Simulation) SubjectID() string { return s.ID() }

func (s *Simulation) Observers() []Observer { return s.observers.All() }

func (s *Simulation) NamedObserver(name string) (Observer, bool) {
	return s.observers.Lookup(name)
}

// RegisterNamedObserver fails with ErrDuplicateObserver if name is taken.
func (s *Simulation) RegisterNamedObserver(o Observer) error {
	return s.observers.Register(o)
}

// ReplaceNamedObserver registers o, replacing any observer of the same name.
func (s *Simulation) ReplaceNamedObserver(o Observer) {
	s.observers.Replace(o)
}

// HasNamedObservers reports whether the simulation or any agent has one.
func (s *Simulation) HasNamedObservers() bool {
	if s.observers.Len() > 0 {
		return true
	}
	for _, a := range s.agents {
		if len(a.Observers()) > 0 {
			return true
		}
	}
	return false
}

func (s *Simulation) JobDate() time.Time           { return s.jobDate }
func (s *Simulation) SeedBase() int64              { return s.seedBase }
func (s *Simulation) Seed() int64                  { return s.seed }
func (s *Simulation) Sampler() *stats.Sampler      { return s.sampler }
func (s *Simulation) Configuration() Configuration { return s.config }

// Parameterisation is the parameterisation assigned by the builder. It is
// part of the identity and never changes during a run.
func (s *Simulation) Parameterisation() Parameterisation { return s.params }

// CurrentParameterisation is the parameterisation in force for this tick.
func (s *Simulation) CurrentParameterisation() Parameterisation { return s.current }

// PreviousParameterisation is the parameterisation in force at the start of
// the previous tick, captured by the pre-tick hook.
func (s *Simulation) PreviousParameterisation() Parameterisation { return s.prevParams }

// SetCurrentParameterisation replaces the parameterisation in force. Models
// call it from UpdateParameterisation to apply policy changes during a run.
func (s *Simulation) SetCurrentParameterisation(p Parameterisation) { s.current = p }

// RestoreConfiguration sets the configuration without touching identity.
// Only for use by Persistent.UnmarshalState.
func (s *Simulation) RestoreConfiguration(c Configuration) { s.config = c }

// RestoreParameterisation sets the assigned, current and previous
// parameterisations. Only for use by Persistent.UnmarshalState.
func (s *Simulation) RestoreParameterisation(assigned, current, previous Parameterisation) {
	s.params, s.current, s.prevParams = assigned, current, previous
}

func (s *Simulation) ConfigBootstrap() (int, bool) { return optInt(s.configBootstrap) }
func (s *Simulation) ParamBootstrap() (int, bool)  { return optInt(s.paramBootstrap) }
func (s *Simulation) ExecBootstrap() (int, bool)   { return optInt(s.execBootstrap) }

// Key is the identity tuple of the simulation.
func (s *Simulation) Key() Key {
	return Key{
		Date:             s.jobDate,
		Configuration:    s.config,
		ConfigBootstrap:  s.configBootstrap,
		Parameterisation: s.params,
		ParamBootstrap:   s.paramBootstrap,
		ExecBootstrap:    s.execBootstrap,
	}
}

// ID is the identity string of the simulation.
func (s *Simulation) ID() string { return s.Key().ID() }

// StepID is the identity string qualified with the current tick.
func (s *Simulation) StepID() string {
	k := s.Key()
	k.Step = Int64(s.Steps())
	return k.ID()
}

// Agents returns the population in id order. The slice must not be modified.
func (s *Simulation) Agents() []Agent { return s.agents }

// NumAgents is the population size.
func (s *Simulation) NumAgents() int { return len(s.agents) }

// Agent resolves an agent by id. Panics if id is out of range.
func (s *Simulation) Agent(id int) Agent {
	if id < 0 || id >= len(s.agents) {
		panic(fmt.Sprintf("agent %d out of range [0, %d)", id, len(s.agents)))
	}
	return s.agents[id]
}

// AddAgent appends a to the population, assigning it the next sequential id.
func (s *Simulation) AddAgent(a Agent) int {
	id := len(s.agents)
	a.Core().id = id
	s.agents = append(s.agents, a)
	return id
}

// Cache is the per-tick cache of the simulation.
func (s *Simulation) Cache() *TickCache { return &s.cache }

// Complete reports whether the completion predicate has fired.
func (s *Simulation) Complete() bool { return s.complete }

// Steps is the number of completed ticks, 0 before the run starts.
func (s *Simulation) Steps() int64 {
	if s.schedule == nil {
		return 0
	}
	return s.schedule.Steps()
}

// Clone deep-copies the simulation. The per-tick cache starts empty and the
// schedule is not copied: clones are only taken before a run is started.
func (s *Simulation) Clone() *Simulation {
	c := &Simulation{
		jobDate:         s.jobDate,
		seedBase:        s.seedBase,
		seed:            s.seed,
		sampler:         s.sampler.Clone(),
		config:          s.config,
		params:          s.params,
		current:         s.current,
		prevParams:      s.prevParams,
		configBootstrap: copyInt(s.configBootstrap),
		paramBootstrap:  copyInt(s.paramBootstrap),
		execBootstrap:   copyInt(s.execBootstrap),
		observers:       s.observers.Clone(),
		complete:        s.complete,
	}
	c.agents = make([]Agent, len(s.agents))
	for i, a := range s.agents {
		c.agents[i] = a.CloneAgent()
	}
	return c
}

// reseed derives the seed from the current key and restarts the sampler.
func (s *Simulation) reseed() {
	s.seed = s.Key().Seed(s.seedBase)
	s.sampler = stats.NewSampler(s.seed)
}

func optInt(p *int) (int, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return Int(*p)
}
