package sim

import (
	"errors"
	"fmt"
)

// State is the lifecycle stage of an ObservedSimulation.
// States are strictly ordered and a simulation only ever moves forward.
type State int

const (
	Unconfigured State = iota
	Initialized
	Configured
	Parameterised
	Ready
	Running
	Complete
)

var stateNames = map[State]string{
	Unconfigured:  "UNCONFIGURED",
	Initialized:   "INITIALIZED",
	Configured:    "CONFIGURED",
	Parameterised: "PARAMETERISED",
	Ready:         "READY",
	Running:       "RUNNING",
	Complete:      "COMPLETE",
}

// String returns the upper-case stage name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState is the inverse of String. Used when decoding snapshots.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Unconfigured, fmt.Errorf("unknown simulation state %q", name)
}

// ErrPrecondition is returned when a lifecycle operation is applied to a
// simulation that is not in the required predecessor state.
var ErrPrecondition = errors.New("lifecycle precondition violated")

// PreconditionError reports an out-of-order lifecycle operation.
type PreconditionError struct {
	ID   string
	Op   string
	Want State
	Got  State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s requires state %s, simulation is %s", e.ID, e.Op, e.Want, e.Got)
}

// Unwrap makes errors.Is(err, ErrPrecondition) hold.
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }
