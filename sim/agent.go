package sim

import "strconv"

// Agent is one member of a simulation population. Agents refer to each
// other and to their simulation by index, resolved through the Model passed
// to every hook, never by stored pointer.
type Agent interface {
	Subject
	Core() *AgentCore
	// SetupBaseline runs once per agent during configuration.
	SetupBaseline(m Model) error
	// InitialiseStatus runs once per agent during parameterisation.
	InitialiseStatus(m Model) error
	// Step is the per-tick behaviour of the agent.
	Step(m Model)
	// RemainsActive reports whether Step should run this tick.
	RemainsActive(m Model) bool
	// CopyStatus snapshots the current status as the previous status,
	// called by the pre-tick hook of each active agent.
	CopyStatus()
	CloneAgent() Agent
}

// AgentCore carries the identity, named observers and tick cache of an
// agent. Domain agents embed it by value.
type AgentCore struct {
	id        int
	observers ObserverSet
	cache     TickCache
}

// Core returns the receiver; it lets embedding types satisfy Agent.
func (a *AgentCore) Core() *AgentCore { return a }

// ID is the index of the agent within its simulation.
func (a *AgentCore) ID() int { return a.id }

// SubjectID is the decimal agent index.
func (a *AgentCore) SubjectID() string { return strconv.Itoa(a.id) }

func (a *AgentCore) Observers() []Observer { return a.observers.All() }

func (a *AgentCore) NamedObserver(name string) (Observer, bool) {
	return a.observers.Lookup(name)
}

// RegisterNamedObserver fails with ErrDuplicateObserver if name is taken.
func (a *AgentCore) RegisterNamedObserver(o Observer) error {
	return a.observers.Register(o)
}

// ReplaceNamedObserver registers o, replacing any observer of the same name.
func (a *AgentCore) ReplaceNamedObserver(o Observer) {
	a.observers.Replace(o)
}

// Cache is the per-tick cache of the agent.
func (a *AgentCore) Cache() *TickCache { return &a.cache }

// CloneCore copies the id and observers. The tick cache starts empty.
func (a *AgentCore) CloneCore() AgentCore {
	return AgentCore{id: a.id, observers: a.observers.Clone()}
}
