package outbreak

import (
	"github.com/sirupsen/logrus"

	"github.com/ai4ci/jpansim4r/sim"
	"github.com/ai4ci/jpansim4r/sim/stats"
)

// Names of the simulation observers.
const (
	ObsSusceptible = "SUSCEPTIBLE"
	ObsInfected    = "INFECTED"
	ObsRecovered   = "RECOVERED"
	ObsIncidence   = "INCIDENCE"
	ObsLockdown    = "LOCKDOWN"
)

// Outbreak is the epidemic model. It completes when no one is infected.
type Outbreak struct {
	*sim.Simulation
	// period is derived from the parameterisation and shared by clones.
	period *stats.DelayDistribution
}

// New creates an unconfigured outbreak model.
func New() *Outbreak { return &Outbreak{Simulation: sim.NewSimulation()} }

func (o *Outbreak) config() Config { return o.Configuration().(Config) }

func (o *Outbreak) current() Params { return o.CurrentParameterisation().(Params) }

func (o *Outbreak) person(id int) *Person { return o.Agent(id).(*Person) }

// Counts is the number of people in each status this tick.
func (o *Outbreak) Counts() map[Status]int {
	return sim.Cached(o.Cache(), "counts", func() map[Status]int {
		out := map[Status]int{Susceptible: 0, Infected: 0, Recovered: 0}
		for _, a := range o.Agents() {
			out[a.(*Person).Status]++
		}
		return out
	})
}

// Incidence is the number of people infected this tick.
func (o *Outbreak) Incidence() int {
	return sim.Cached(o.Cache(), "incidence", func() int {
		n := 0
		for _, a := range o.Agents() {
			if a.(*Person).Newly {
				n++
			}
		}
		return n
	})
}

// InLockdown reports whether a lockdown is in force.
func (o *Outbreak) InLockdown() bool {
	p, ok := o.CurrentParameterisation().(Params)
	return ok && p.Lockdown
}

// transmission is the daily infection probability across a contact of
// weight 1 under the policy in force.
func (o *Outbreak) transmission() float64 {
	p := o.current()
	if p.Lockdown {
		return p.Transmission * (1 - p.LockdownEffect)
	}
	return p.Transmission
}

func (o *Outbreak) BeginConfiguration() error { return o.registerObservers() }

func (o *Outbreak) registerObservers() error {
	for _, status := range []Status{Susceptible, Infected, Recovered} {
		if err := sim.KeepFullHistory(o, string(status), sim.Always(func(o *Outbreak) int { return o.Counts()[status] })); err != nil {
			return err
		}
	}
	if err := sim.KeepFullHistory(o, ObsIncidence, sim.Always((*Outbreak).Incidence)); err != nil {
		return err
	}
	return sim.KeepFullHistory(o, ObsLockdown, sim.Always((*Outbreak).InLockdown))
}

// CreateAgents adds the population and draws the contact network.
func (o *Outbreak) CreateAgents() error {
	c := o.config()
	network := wattsStrogatz(c.Population, c.Connectedness, c.Randomness, o.Sampler())
	edges := 0
	for _, contacts := range network {
		o.AddAgent(&Person{Contacts: contacts})
		edges += len(contacts)
	}
	logrus.Debugf("[outbreak] %s: contact network of %d people, %d edges, mean degree %.2f",
		o.ID(), c.Population, edges/2, float64(edges)/float64(c.Population))
	return nil
}

func (o *Outbreak) FinishConfiguration() error { return nil }

func (o *Outbreak) StartParameterisation() error {
	period, err := o.current().infectiousPeriod()
	if err != nil {
		return err
	}
	o.period = period
	return nil
}

// FinishParameterisation infects the imported cases.
func (o *Outbreak) FinishParameterisation() error {
	c := o.config()
	for _, id := range o.Sampler().Perm(c.Population)[:c.Imports] {
		p := o.person(id)
		p.infect(o)
		p.Previous = Infected
	}
	logrus.Debugf("[outbreak] %s: %d imported infections", o.ID(), c.Imports)
	return nil
}

// UpdateParameterisation starts or lifts the lockdown on the infected count
// after this tick's transmissions.
func (o *Outbreak) UpdateParameterisation() {
	p := o.current()
	infected := o.Counts()[Infected]
	switch {
	case !p.Lockdown && p.LockdownTrigger > 0 && infected >= p.LockdownTrigger:
		p.Lockdown = true
		logrus.Debugf("[outbreak] %s: lockdown with %d infected", o.StepID(), infected)
	case p.Lockdown && infected <= p.LockdownRelease:
		p.Lockdown = false
		logrus.Debugf("[outbreak] %s: lockdown lifted with %d infected", o.StepID(), infected)
	default:
		return
	}
	o.SetCurrentParameterisation(p)
}

// CheckComplete runs before the tick cache is cleared, so it counts directly.
func (o *Outbreak) CheckComplete() bool {
	for _, a := range o.Agents() {
		if a.(*Person).Status == Infected {
			return false
		}
	}
	return true
}

func (o *Outbreak) Clone() sim.Model {
	return &Outbreak{Simulation: o.Simulation.Clone(), period: o.period}
}
