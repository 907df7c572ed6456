package outbreak

import "github.com/ai4ci/jpansim4r/sim"

// ObsStatus is the name of the per-person status observer.
const ObsStatus = "STATUS"

// Status is the disease state of a person.
type Status string

const (
	Susceptible Status = "SUSCEPTIBLE"
	Infected    Status = "INFECTED"
	Recovered   Status = "RECOVERED"
)

// Person is the agent of the outbreak model. Transmission reads the
// Previous status of contacts, so every person sees the same start-of-tick
// picture regardless of the order agents step in.
type Person struct {
	sim.AgentCore
	// Contacts is fixed at configuration and shared by clones.
	Contacts []Contact

	Status   Status
	Previous Status
	// Newly is set on the tick a person is infected.
	Newly bool
	// Days counts the ticks spent infected; Duration is the drawn length
	// of the infection.
	Days     int
	Duration int
}

func (p *Person) SetupBaseline(m sim.Model) error { return p.registerObservers() }

func (p *Person) registerObservers() error {
	return sim.KeepFullHistory(p, ObsStatus, sim.Always(func(p *Person) string { return string(p.Status) }))
}

func (p *Person) InitialiseStatus(m sim.Model) error {
	p.Status, p.Previous = Susceptible, Susceptible
	p.Newly = false
	p.Days, p.Duration = 0, 0
	return nil
}

func (p *Person) infect(o *Outbreak) {
	p.Status = Infected
	p.Newly = true
	p.Days = 0
	p.Duration = 1 + o.period.Sample(o.Sampler())
}

// Step infects a susceptible person with the combined probability of their
// infected contacts, and recovers an infected one whose time is up.
func (p *Person) Step(m sim.Model) {
	o := m.(*Outbreak)
	switch p.Previous {
	case Susceptible:
		beta := o.transmission()
		escape := 1.0
		for _, c := range p.Contacts {
			if o.person(c.ID).Previous == Infected {
				escape *= 1 - beta*c.Weight
			}
		}
		if escape < 1 && o.Sampler().Bernoulli(1-escape) {
			p.infect(o)
		}
	case Infected:
		p.Days++
		if p.Days >= p.Duration {
			p.Status = Recovered
		}
	}
}

// RemainsActive is false once the recovery has been copied into Previous.
func (p *Person) RemainsActive(m sim.Model) bool {
	return p.Status != Recovered || p.Previous != Recovered
}

func (p *Person) CopyStatus() {
	p.Previous = p.Status
	p.Newly = false
}

func (p *Person) CloneAgent() sim.Agent {
	c := *p
	c.AgentCore = p.CloneCore()
	return &c
}
