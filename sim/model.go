package sim

import (
	"fmt"
	"sort"
	"sync"
)

// Named is implemented by configurations and parameterisations.
type Named interface {
	Name() string
}

// Configuration is immutable structural setup (population, topology).
type Configuration interface {
	Named
}

// Parameterisation is an immutable set of numeric and behavioural
// assumptions applied on top of a configuration.
type Parameterisation interface {
	Named
}

// Model is implemented by a domain simulation. It embeds *Simulation, which
// supplies the Subject methods and the lifecycle state shared by all models,
// and adds the stage hooks invoked by the builder.
//
// Hooks run in this order:
//
//	configure:    BeginConfiguration, CreateAgents, Agent.SetupBaseline (each), FinishConfiguration
//	parameterise: StartParameterisation, Agent.InitialiseStatus (each), FinishParameterisation
//	every tick:   CheckComplete (pre-tick), UpdateParameterisation
type Model interface {
	Subject
	Sim() *Simulation
	BeginConfiguration() error
	CreateAgents() error
	FinishConfiguration() error
	StartParameterisation() error
	FinishParameterisation() error
	UpdateParameterisation()
	CheckComplete() bool
	// Clone returns a deep copy sharing no mutable state with the receiver.
	Clone() Model
}

// Persistent is implemented by models whose snapshots can be written to and
// restored from the stage cache.
//
// UnmarshalState is called on a fresh model from the registry. It must
// restore the configuration, parameterisation and agents, and re-register
// every named observer. Observer values are restored afterwards.
type Persistent interface {
	Model
	ModelName() string
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// ModelSpec is the registry entry of a model: a constructor and the decoders
// for its configuration and parameterisation records. The decoders receive a
// function that unmarshals the raw record into a target value.
type ModelSpec struct {
	New                    func() Model
	DecodeConfiguration    func(decode func(any) error) (Configuration, error)
	DecodeParameterisation func(decode func(any) error) (Parameterisation, error)
}

var (
	modelsMu sync.RWMutex
	models   = map[string]ModelSpec{}
)

// RegisterModel makes a model available by name. Models register from init().
// Panics on duplicate names or a missing constructor.
func RegisterModel(name string, spec ModelSpec) {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	if spec.New == nil {
		panic(fmt.Sprintf("model %q registered without constructor", name))
	}
	if _, dup := models[name]; dup {
		panic(fmt.Sprintf("model %q registered twice", name))
	}
	models[name] = spec
}

// LookupModel returns the registry entry for name.
func LookupModel(name string) (ModelSpec, bool) {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	spec, ok := models[name]
	return spec, ok
}

// ModelNames lists the registered model names, sorted.
func ModelNames() []string {
	modelsMu.RLock()
	defer modelsMu.RUnlock()
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
