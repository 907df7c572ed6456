package sim

import "slices"

// Orderings of the repeating steppables within a tick. Lower runs first.
const (
	OrderAgents     = 0
	OrderParameters = 1
)

// Steppable is invoked once per tick with the model being stepped.
type Steppable interface {
	Step(m Model)
}

// StepFunc adapts a function to Steppable.
type StepFunc func(m Model)

func (f StepFunc) Step(m Model) { f(m) }

// scheduled is a repeating steppable. It runs on every tick for which
// active returns true; a nil active means always.
type scheduled struct {
	ordering int
	seq      int
	step     Steppable
	active   func(Model) bool
}

// Schedule advances a simulation in whole ticks. Each tick runs, in order,
// the before hooks, the repeating steppables by (ordering, insertion), and
// the after hooks; the tick counter then increments.
//
// Thread-safety: NOT thread-safe. One schedule belongs to one run.
type Schedule struct {
	steps   int64
	seq     int
	before  []Steppable
	entries []scheduled
	after   []Steppable
}

// NewSchedule creates an empty schedule at tick 0.
func NewSchedule() *Schedule {
	return &Schedule{}
}

// Steps is the number of completed ticks.
func (s *Schedule) Steps() int64 { return s.steps }

// AddBefore registers a hook run at the start of every tick.
func (s *Schedule) AddBefore(st Steppable) { s.before = append(s.before, st) }

// AddAfter registers a hook run at the end of every tick, after all
// repeating steppables. Hooks run in registration order.
func (s *Schedule) AddAfter(st Steppable) { s.after = append(s.after, st) }

// ScheduleRepeating runs st every tick while active reports true.
func (s *Schedule) ScheduleRepeating(ordering int, st Steppable, active func(Model) bool) {
	s.entries = append(s.entries, scheduled{ordering: ordering, seq: s.seq, step: st, active: active})
	s.seq++
	slices.SortStableFunc(s.entries, func(a, b scheduled) int {
		if a.ordering != b.ordering {
			return a.ordering - b.ordering
		}
		return a.seq - b.seq
	})
}

// Step runs one tick against m.
func (s *Schedule) Step(m Model) {
	for _, st := range s.before {
		st.Step(m)
	}
	for _, e := range s.entries {
		if e.active == nil || e.active(m) {
			e.step.Step(m)
		}
	}
	for _, st := range s.after {
		st.Step(m)
	}
	s.steps++
}
