// Package testutil provides shared test infrastructure for the simulation
// packages: a small deterministic model, helpers that drive it through the
// lifecycle, and golden-file assertions.
package testutil

import (
	"math"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/ai4ci/jpansim4r/sim"
)

// JobDate is the fixed date used by test fixtures.
var JobDate = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// Golden returns a goldie instance rooted at testdata/golden.
// Regenerate fixtures with: go test ./... -update
func Golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// Ready drives a fresh counter model through every build stage and returns
// it in state Ready.
func Ready(t *testing.T, cfg CounterConfig, params CounterParams, execBootstrap int) *sim.ObservedSimulation {
	t.Helper()
	o := sim.NewObservedSimulation(NewCounter())
	require.NoError(t, o.Initialise(JobDate, 42, cfg, 0))
	require.NoError(t, o.Configure(nil, nil))
	require.NoError(t, o.Parameterise(params, 0))
	require.NoError(t, o.Start(execBootstrap))
	return o
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
