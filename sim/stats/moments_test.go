package stats_test

import (
	"math"
	"testing"

	"github.com/ai4ci/jpansim4r/sim/internal/testutil"
	"github.com/ai4ci/jpansim4r/sim/stats"
)

func mean(n int, draw func() float64) float64 {
	total := 0.0
	for i := 0; i < n; i++ {
		total += draw()
	}
	return total / float64(n)
}

func TestSampler_ContinuousMeans(t *testing.T) {
	s := stats.NewSampler(17)
	const n = 20000

	tests := []struct {
		name string
		draw func() float64
		want float64
	}{
		{"normal", func() float64 { return s.Normal(10, 2) }, 10},
		{"log-normal", func() float64 { return s.LogNormal(0, 0.5) }, math.Exp(0.125)},
		{"gamma", func() float64 { return s.Gamma(3, 1) }, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testutil.AssertFloat64Equal(t, tc.name, tc.want, mean(n, tc.draw), 0.02)
		})
	}
}

func TestDiscretisedGamma_ScaleAppliesToMass(t *testing.T) {
	d, err := stats.DiscretisedGamma(4, 1.5, 11, 0.3)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertFloat64Equal(t, "total mass", 0.3, d.CumulativeAt(d.Size()), 1e-9)
	testutil.AssertFloat64Equal(t, "mean delay", 0.3*3.5, d.Expected(), 0.05)
}
