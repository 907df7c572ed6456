package testutil

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ai4ci/jpansim4r/sim"
)

// CounterModelName is the registry name of the counter model.
const CounterModelName = "counter"

func init() {
	sim.RegisterModel(CounterModelName, sim.ModelSpec{
		New: func() sim.Model { return NewCounter() },
		DecodeConfiguration: func(decode func(any) error) (sim.Configuration, error) {
			var c CounterConfig
			err := decode(&c)
			return c, err
		},
		DecodeParameterisation: func(decode func(any) error) (sim.Parameterisation, error) {
			var p CounterParams
			err := decode(&p)
			return p, err
		},
	})
}

// ErrInjected is returned by hooks named in FailOn.
var ErrInjected = errors.New("injected failure")

// CounterConfig sets the number of walkers.
type CounterConfig struct {
	Label   string `yaml:"name" json:"name"`
	Walkers int    `yaml:"walkers" json:"walkers"`
	// FailOn names a configuration hook that returns ErrInjected.
	FailOn string `yaml:"fail_on,omitempty" json:"fail_on,omitempty"`
}

func (c CounterConfig) Name() string { return c.Label }

// CounterParams sets how far walkers move per tick and when the run ends.
type CounterParams struct {
	Label     string `yaml:"name" json:"name"`
	Increment int    `yaml:"increment" json:"increment"`
	// Horizon is the tick at which CheckComplete fires; 0 never completes.
	Horizon int64 `yaml:"horizon,omitempty" json:"horizon,omitempty"`
	// FailOn names a parameterisation hook that returns ErrInjected.
	FailOn string `yaml:"fail_on,omitempty" json:"fail_on,omitempty"`
}

func (p CounterParams) Name() string { return p.Label }

// Counter is a deterministic model: every walker moves Increment per tick.
// It records the order its hooks ran in Hooks.
type Counter struct {
	*sim.Simulation
	Hooks []string
}

// Walker is the agent of the counter model.
type Walker struct {
	sim.AgentCore
	Start    int
	Position int
	Previous int
}

// NewCounter creates an unconfigured counter model.
func NewCounter() *Counter {
	return &Counter{Simulation: sim.NewSimulation()}
}

func (c *Counter) config() CounterConfig { return c.Configuration().(CounterConfig) }

func (c *Counter) params() CounterParams {
	return c.CurrentParameterisation().(CounterParams)
}

func (c *Counter) hook(name string, failOn string) error {
	c.Hooks = append(c.Hooks, name)
	if failOn == name {
		return fmt.Errorf("%s: %w", name, ErrInjected)
	}
	return nil
}

// Total is the sum of walker positions.
func (c *Counter) Total() int {
	return sim.Cached(c.Cache(), "total", func() int {
		total := 0
		for _, a := range c.Agents() {
			total += a.(*Walker).Position
		}
		return total
	})
}

func (c *Counter) BeginConfiguration() error {
	if err := c.hook("begin-configuration", c.config().FailOn); err != nil {
		return err
	}
	return c.registerSimulationObservers()
}

func (c *Counter) registerSimulationObservers() error {
	return sim.KeepFullHistory(c, "TOTAL", sim.Always((*Counter).Total))
}

func (c *Counter) CreateAgents() error {
	if err := c.hook("create-agents", c.config().FailOn); err != nil {
		return err
	}
	for i := 0; i < c.config().Walkers; i++ {
		c.AddAgent(&Walker{})
	}
	return nil
}

func (c *Counter) FinishConfiguration() error {
	return c.hook("finish-configuration", c.config().FailOn)
}

func (c *Counter) StartParameterisation() error {
	return c.hook("start-parameterisation", c.params().FailOn)
}

func (c *Counter) FinishParameterisation() error {
	return c.hook("finish-parameterisation", c.params().FailOn)
}

func (c *Counter) UpdateParameterisation() {}

func (c *Counter) CheckComplete() bool {
	h := c.params().Horizon
	return h > 0 && c.Steps() >= h
}

func (c *Counter) Clone() sim.Model {
	return &Counter{Simulation: c.Simulation.Clone(), Hooks: append([]string(nil), c.Hooks...)}
}

func (w *Walker) SetupBaseline(m sim.Model) error {
	w.Start = w.ID()
	return w.registerObservers()
}

func (w *Walker) registerObservers() error {
	return sim.KeepFullHistory(w, "POSITION", sim.Always(func(w *Walker) int { return w.Position }))
}

func (w *Walker) InitialiseStatus(m sim.Model) error {
	w.Position = w.Start
	w.Previous = w.Start
	return nil
}

func (w *Walker) Step(m sim.Model) {
	w.Position = w.Previous + m.(*Counter).params().Increment
}

func (w *Walker) RemainsActive(m sim.Model) bool { return true }

func (w *Walker) CopyStatus() { w.Previous = w.Position }

func (w *Walker) CloneAgent() sim.Agent {
	return &Walker{AgentCore: w.CloneCore(), Start: w.Start, Position: w.Position, Previous: w.Previous}
}

type counterState struct {
	Config   CounterConfig  `json:"config"`
	Params   *CounterParams `json:"params,omitempty"`
	Current  *CounterParams `json:"current,omitempty"`
	Previous *CounterParams `json:"previous,omitempty"`
	Hooks    []string       `json:"hooks"`
	Walkers  []walkerState  `json:"walkers"`
}

type walkerState struct {
	Start    int `json:"start"`
	Position int `json:"position"`
	Previous int `json:"previous"`
}

func (c *Counter) ModelName() string { return CounterModelName }

func (c *Counter) MarshalState() ([]byte, error) {
	st := counterState{Config: c.config(), Hooks: c.Hooks}
	if p, ok := c.Parameterisation().(CounterParams); ok {
		cur := c.CurrentParameterisation().(CounterParams)
		prev := c.PreviousParameterisation().(CounterParams)
		st.Params, st.Current, st.Previous = &p, &cur, &prev
	}
	for _, a := range c.Agents() {
		w := a.(*Walker)
		st.Walkers = append(st.Walkers, walkerState{Start: w.Start, Position: w.Position, Previous: w.Previous})
	}
	return json.Marshal(st)
}

func (c *Counter) UnmarshalState(data []byte) error {
	var st counterState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	c.RestoreConfiguration(st.Config)
	if st.Params != nil {
		c.RestoreParameterisation(*st.Params, *st.Current, *st.Previous)
	}
	c.Hooks = st.Hooks
	if err := c.registerSimulationObservers(); err != nil {
		return err
	}
	for _, ws := range st.Walkers {
		w := &Walker{Start: ws.Start, Position: ws.Position, Previous: ws.Previous}
		c.AddAgent(w)
		if err := w.registerObservers(); err != nil {
			return err
		}
	}
	return nil
}
