// Package outbreak is a reference model: an SIR epidemic spreading over a
// Watts–Strogatz contact network, with a population-wide lockdown that
// starts and lifts on thresholds of the infected count.
//
// The contact network is drawn from the configuration seed, the imported
// infections from the parameterisation seed and the course of the epidemic
// from the execution seed, so replicates of one parameterisation share a
// network and index cases but differ in how the outbreak unfolds.
package outbreak

import (
	"fmt"
	"math"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/stats"
)

// ModelName is the registry name of the outbreak model.
const ModelName = "outbreak"

func init() {
	sim.RegisterModel(ModelName, sim.ModelSpec{
		New: func() sim.Model { return New() },
		DecodeConfiguration: func(decode func(any) error) (sim.Configuration, error) {
			c := DefaultConfig()
			if err := decode(&c); err != nil {
				return nil, err
			}
			return c, c.Validate()
		},
		DecodeParameterisation: func(decode func(any) error) (sim.Parameterisation, error) {
			p := DefaultParams()
			if err := decode(&p); err != nil {
				return nil, err
			}
			return p, p.Validate()
		},
	})
}

// Config is the structure of the population and its contact network.
type Config struct {
	Label      string `yaml:"name" json:"name"`
	Population int    `yaml:"population" json:"population"`
	// Connectedness is the degree of the ring lattice before rewiring. Even.
	Connectedness int `yaml:"connectedness" json:"connectedness"`
	// Randomness is the probability that a lattice edge is rewired.
	Randomness float64 `yaml:"randomness" json:"randomness"`
	// Imports is the number of people infected at the start.
	Imports int `yaml:"imports" json:"imports"`
}

func (c Config) Name() string { return c.Label }

// DefaultConfig returns the values used for keys a record leaves out.
func DefaultConfig() Config {
	return Config{Population: 1000, Connectedness: 10, Randomness: 0.1, Imports: 5}
}

// Validate checks that all fields of the configuration are valid.
func (c Config) Validate() error {
	if c.Population < 2 {
		return fmt.Errorf("population must be >= 2, got %d", c.Population)
	}
	if c.Connectedness < 2 || c.Connectedness%2 != 0 || c.Connectedness >= c.Population {
		return fmt.Errorf("connectedness must be even, >= 2 and below the population, got %d", c.Connectedness)
	}
	if c.Randomness < 0 || c.Randomness > 1 {
		return fmt.Errorf("randomness must be in [0, 1], got %v", c.Randomness)
	}
	if c.Imports < 0 || c.Imports > c.Population {
		return fmt.Errorf("imports must be in [0, population], got %d", c.Imports)
	}
	return nil
}

// Params are the disease and policy assumptions.
type Params struct {
	Label string `yaml:"name" json:"name"`
	// Transmission is the daily probability of infection across a contact
	// of weight 1.
	Transmission float64 `yaml:"transmission" json:"transmission"`
	// InfectiousMean and InfectiousSD describe the gamma-distributed number
	// of days a person stays infected.
	InfectiousMean float64 `yaml:"infectious_mean" json:"infectious_mean"`
	InfectiousSD   float64 `yaml:"infectious_sd" json:"infectious_sd"`
	// LockdownTrigger starts a lockdown when at least this many are
	// infected; 0 disables lockdowns.
	LockdownTrigger int `yaml:"lockdown_trigger" json:"lockdown_trigger"`
	// LockdownRelease lifts the lockdown when at most this many are infected.
	LockdownRelease int `yaml:"lockdown_release" json:"lockdown_release"`
	// LockdownEffect is the fraction by which a lockdown reduces transmission.
	LockdownEffect float64 `yaml:"lockdown_effect" json:"lockdown_effect"`

	// Lockdown is the policy in force. Only the current parameterisation
	// carries it; UpdateParameterisation switches it every tick.
	Lockdown bool `yaml:"-" json:"lockdown,omitempty"`
}

func (p Params) Name() string { return p.Label }

// DefaultParams returns the values used for keys a record leaves out.
func DefaultParams() Params {
	return Params{Transmission: 0.1, InfectiousMean: 5, InfectiousSD: 2, LockdownEffect: 0.5}
}

// Validate checks that all fields of the parameterisation are valid.
func (p Params) Validate() error {
	if p.Transmission < 0 || p.Transmission > 1 {
		return fmt.Errorf("transmission must be in [0, 1], got %v", p.Transmission)
	}
	if p.InfectiousMean <= 0 || p.InfectiousSD <= 0 {
		return fmt.Errorf("infectious period needs positive mean and sd, got %v/%v", p.InfectiousMean, p.InfectiousSD)
	}
	if p.LockdownTrigger < 0 || p.LockdownRelease < 0 {
		return fmt.Errorf("lockdown thresholds must be non-negative, got %d/%d", p.LockdownTrigger, p.LockdownRelease)
	}
	if p.LockdownTrigger > 0 && p.LockdownRelease >= p.LockdownTrigger {
		return fmt.Errorf("lockdown_release (%d) must be below lockdown_trigger (%d)", p.LockdownRelease, p.LockdownTrigger)
	}
	if p.LockdownEffect < 0 || p.LockdownEffect > 1 {
		return fmt.Errorf("lockdown_effect must be in [0, 1], got %v", p.LockdownEffect)
	}
	return nil
}

// infectiousPeriod is the distribution of days spent infected, covering the
// mean plus four standard deviations.
func (p Params) infectiousPeriod() (*stats.DelayDistribution, error) {
	days := int(math.Ceil(p.InfectiousMean+4*p.InfectiousSD)) + 1
	return stats.DiscretisedGamma(p.InfectiousMean, p.InfectiousSD, days, 1)
}
