package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_StrictlyOrdered(t *testing.T) {
	order := []State{Unconfigured, Initialized, Configured, Parameterised, Ready, Running, Complete}
	for i := 1; i < len(order); i++ {
		assert.True(t, order[i-1] < order[i], "%s < %s", order[i-1], order[i])
	}
}

func TestState_StringRoundTrip(t *testing.T) {
	for s := Unconfigured; s <= Complete; s++ {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "PARAMETERISED", Parameterised.String())
	assert.Equal(t, "State(42)", State(42).String())

	_, err := ParseState("FINISHED")
	assert.Error(t, err)
}

func TestPreconditionError_UnwrapsToSentinel(t *testing.T) {
	var err error = &PreconditionError{ID: "x", Op: "start", Want: Parameterised, Got: Configured}
	assert.True(t, errors.Is(err, ErrPrecondition))
	assert.Equal(t, "x: start requires state PARAMETERISED, simulation is CONFIGURED", err.Error())
}

func TestSchedule_RunsHooksThenEntriesByOrdering(t *testing.T) {
	// GIVEN entries added out of ordering order
	var trace []string
	rec := func(s string) StepFunc { return func(Model) { trace = append(trace, s) } }
	sched := NewSchedule()
	sched.AddAfter(rec("after"))
	sched.ScheduleRepeating(OrderParameters, rec("params"), nil)
	sched.ScheduleRepeating(OrderAgents, rec("a0"), nil)
	sched.ScheduleRepeating(OrderAgents, rec("a1"), func(Model) bool { return false })
	sched.ScheduleRepeating(OrderAgents, rec("a2"), nil)
	sched.AddBefore(rec("before"))

	// WHEN one tick runs
	sched.Step(nil)

	// THEN before hooks, agents by insertion, parameters, after hooks
	assert.Equal(t, []string{"before", "a0", "a2", "params", "after"}, trace)
	assert.Equal(t, int64(1), sched.Steps())
}

func TestTickCache_ComputesOnceUntilCleared(t *testing.T) {
	var c TickCache
	calls := 0
	compute := func() int { calls++; return 7 }

	assert.Equal(t, 7, Cached(&c, "k", compute))
	assert.Equal(t, 7, Cached(&c, "k", compute))
	assert.Equal(t, 1, calls)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	Cached(&c, "k", compute)
	assert.Equal(t, 2, calls)
}

func TestRegisterModel_PanicsOnDuplicate(t *testing.T) {
	spec := ModelSpec{New: func() Model { return nil }}
	RegisterModel("state-test-model", spec)
	assert.Panics(t, func() { RegisterModel("state-test-model", spec) })
	assert.Panics(t, func() { RegisterModel("state-test-nil", ModelSpec{}) })

	_, ok := LookupModel("state-test-model")
	assert.True(t, ok)
	assert.Contains(t, ModelNames(), "state-test-model")
}
