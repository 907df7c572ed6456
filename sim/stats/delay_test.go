package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDelayDistribution_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		density []float64
	}{
		{"empty", nil},
		{"zero mass", []float64{0, 0}},
		{"negative density", []float64{1, -0.5, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDelayDistribution(tc.density, 1)
			assert.Error(t, err)
		})
	}
}

func TestFromCounts_ScalesNormalisedShape(t *testing.T) {
	d, err := FromCounts(0.4, 1, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, 3, d.Size())
	assert.InDelta(t, 0.1, d.DensityAt(0), 1e-12)
	assert.InDelta(t, 0.2, d.DensityAt(2), 1e-12)
	assert.Zero(t, d.DensityAt(-1))
	assert.Zero(t, d.DensityAt(3))
	assert.InDelta(t, 0.2, d.CumulativeAt(1), 1e-12)
	assert.InDelta(t, 0.4, d.CumulativeAt(10), 1e-12)
	assert.Zero(t, d.CumulativeAt(-1))
	assert.InDelta(t, 0.5, d.Expected(), 1e-12)
}

func TestFromHazards_RecoversHazards(t *testing.T) {
	// GIVEN a half chance on each of two days then certainty
	d, err := FromHazards(0.5, 0.5, 1)
	require.NoError(t, err)

	// THEN the density is the survival-weighted hazard
	assert.InDeltaSlice(t, []float64{0.5, 0.25, 0.25}, d.Density, 1e-12)
	assert.InDelta(t, 1.0, d.Scale, 1e-12)
	for x, want := range []float64{0.5, 0.5, 1} {
		assert.InDelta(t, want, d.HazardAt(x), 1e-12, "delay %d", x)
	}

	_, err = FromHazards(0.5, 1.5)
	assert.Error(t, err)
}

func TestFromProbabilities_AffectedWithinWindow(t *testing.T) {
	d, err := FromProbabilities(0.1, 0.1)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, d.Scale, 1e-12)
	assert.InDelta(t, 0.2*0.5, d.Affected(1), 1e-12)
	assert.InDelta(t, 0.2*0.75, d.Affected(5), 1e-12)
}

func TestDiscretisedGamma_MatchesMoments(t *testing.T) {
	d, err := DiscretisedGamma(5, 2, 20, 1)
	require.NoError(t, err)

	assert.Equal(t, 20, d.Size())
	assert.InDelta(t, 1.0, d.CumulativeAt(19), 1e-9)
	// whole-day delays floor the continuous draw
	assert.InDelta(t, 4.5, d.Expected(), 0.1)

	_, err = DiscretisedGamma(0, 2, 20, 1)
	assert.Error(t, err)
}

func TestDelayDistribution_SampleFollowsDensity(t *testing.T) {
	d, err := FromProbabilities(0.2, 0.3, 0.5)
	require.NoError(t, err)
	s := NewSampler(21)

	const n = 20000
	counts := make([]float64, d.Size())
	for i := 0; i < n; i++ {
		counts[d.Sample(s)]++
	}

	for x, want := range []float64{0.2, 0.3, 0.5} {
		assert.InDelta(t, want, counts[x]/n, 0.02, "delay %d", x)
	}
}
