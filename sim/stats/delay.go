package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// DelayDistribution is a discrete distribution over whole-day delays,
// optionally scaled so that its total mass equals Scale rather than 1.
// Used for infectivity profiles and time-to-event delays.
type DelayDistribution struct {
	Density    []float64 `json:"density"`
	Cumulative []float64 `json:"cumulative"`
	Hazard     []float64 `json:"hazard"`
	Scale      float64   `json:"scale"`
}

// NewDelayDistribution normalises density and scales it to total mass scale.
func NewDelayDistribution(density []float64, scale float64) (*DelayDistribution, error) {
	total := floats.Sum(density)
	if len(density) == 0 || total <= 0 {
		return nil, errors.New("delay distribution needs positive mass")
	}
	d := &DelayDistribution{
		Density:    make([]float64, len(density)),
		Cumulative: make([]float64, len(density)),
		Hazard:     make([]float64, len(density)),
		Scale:      scale,
	}
	for i, v := range density {
		if v < 0 {
			return nil, fmt.Errorf("negative density %v at delay %d", v, i)
		}
		d.Density[i] = v / total
	}
	floats.CumSum(d.Cumulative, d.Density)
	for i := range d.Density {
		if i == 0 {
			d.Hazard[i] = d.Density[i]
			continue
		}
		if remaining := 1 - d.Cumulative[i-1]; remaining > 0 {
			d.Hazard[i] = d.Density[i] / remaining
		}
	}
	return d, nil
}

// FromProbabilities builds a distribution whose scale is the sum of the inputs.
func FromProbabilities(probabilities ...float64) (*DelayDistribution, error) {
	return NewDelayDistribution(probabilities, floats.Sum(probabilities))
}

// FromCounts builds a distribution with the shape of counts and total mass probability.
func FromCounts(probability float64, counts ...int) (*DelayDistribution, error) {
	density := make([]float64, len(counts))
	for i, c := range counts {
		density[i] = float64(c)
	}
	return NewDelayDistribution(density, probability)
}

// FromHazards builds a distribution from per-day hazards in [0, 1].
func FromHazards(hazards ...float64) (*DelayDistribution, error) {
	probabilities := make([]float64, len(hazards))
	cum := 0.0
	for i, h := range hazards {
		if h < 0 || h > 1 {
			return nil, fmt.Errorf("hazard %v at delay %d outside [0, 1]", h, i)
		}
		probabilities[i] = (1 - cum) * h
		cum += probabilities[i]
	}
	return FromProbabilities(probabilities...)
}

// DiscretisedGamma builds a profile over [0, days) from a gamma distribution
// with the given mean and standard deviation, scaled to total mass scale.
func DiscretisedGamma(mean, sd float64, days int, scale float64) (*DelayDistribution, error) {
	if mean <= 0 || sd <= 0 || days <= 0 {
		return nil, fmt.Errorf("invalid gamma profile mean=%v sd=%v days=%d", mean, sd, days)
	}
	alpha, beta := gammaShapeRate(mean, sd)
	g := distuv.Gamma{Alpha: alpha, Beta: beta}
	density := make([]float64, days)
	for i := range density {
		density[i] = g.CDF(float64(i+1)) - g.CDF(float64(i))
	}
	return NewDelayDistribution(density, scale)
}

// Size is the number of delays with defined density.
func (d *DelayDistribution) Size() int { return len(d.Density) }

// DensityAt is the scaled probability mass at delay x.
func (d *DelayDistribution) DensityAt(x int) float64 {
	if x < 0 || x >= len(d.Density) {
		return 0
	}
	return d.Density[x] * d.Scale
}

// CumulativeAt is the scaled mass at delays <= x.
func (d *DelayDistribution) CumulativeAt(x int) float64 {
	if x < 0 {
		return 0
	}
	if x >= len(d.Cumulative) {
		return d.Scale
	}
	return d.Cumulative[x] * d.Scale
}

// HazardAt is the scaled conditional probability of the event at x given it
// has not occurred before x.
func (d *DelayDistribution) HazardAt(x int) float64 {
	if x < 0 || x >= len(d.Hazard) {
		return 0
	}
	return d.Hazard[x] * d.Scale
}

// Expected is the scaled mean delay.
func (d *DelayDistribution) Expected() float64 {
	out := 0.0
	for i, p := range d.Density {
		out += float64(i) * p
	}
	return out * d.Scale
}

// Affected is the scaled probability the event occurs at least once within
// the first n delays, treating each delay as independent.
func (d *DelayDistribution) Affected(n int) float64 {
	n = min(n, len(d.Density))
	out := 0.0
	for i := 0; i < n; i++ {
		out = 1 - (1-out)*(1-d.Density[i])
	}
	return out * d.Scale
}

// Sample draws a delay from the normalised density.
func (d *DelayDistribution) Sample(s *Sampler) int {
	u := s.Uniform()
	for i, c := range d.Cumulative {
		if u < c {
			return i
		}
	}
	return len(d.Cumulative) - 1
}
