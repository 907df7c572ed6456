// Package stats provides the random draws used by simulation models.
// Every simulation owns one Sampler seeded from its derived identity seed.
package stats

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// pcgIncrement is the fixed second PCG word; the seed supplies the first.
const pcgIncrement = 0x9e3779b97f4a7c15

// Sampler draws from common distributions over a single PCG stream.
// Two samplers created with the same seed produce identical draws.
//
// Thread-safety: NOT thread-safe. Owned by one simulation instance.
type Sampler struct {
	seed int64
	src  *rand.PCG
	rng  *rand.Rand
}

// NewSampler creates a Sampler for seed.
func NewSampler(seed int64) *Sampler {
	src := rand.NewPCG(uint64(seed), pcgIncrement)
	return &Sampler{seed: seed, src: src, rng: rand.New(src)}
}

// Seed returns the seed the sampler was created with.
func (s *Sampler) Seed() int64 { return s.seed }

// Clone returns an independent sampler positioned at the same point in the stream.
func (s *Sampler) Clone() *Sampler {
	src := *s.src
	return &Sampler{seed: s.seed, src: &src, rng: rand.New(&src)}
}

// MarshalBinary encodes the stream position.
func (s *Sampler) MarshalBinary() ([]byte, error) {
	return s.src.MarshalBinary()
}

// UnmarshalBinary restores a stream position produced by MarshalBinary.
func (s *Sampler) UnmarshalBinary(data []byte) error {
	if err := s.src.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("restore sampler: %w", err)
	}
	return nil
}

// Uniform returns a draw from [0, 1).
func (s *Sampler) Uniform() float64 { return s.rng.Float64() }

// Bernoulli returns true with probability p.
func (s *Sampler) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// IntN returns a draw from [0, n). Panics if n <= 0.
func (s *Sampler) IntN(n int) int { return s.rng.IntN(n) }

// Perm returns a random permutation of [0, n).
func (s *Sampler) Perm(n int) []int { return s.rng.Perm(n) }

// Binomial returns the number of successes in n trials of probability p.
func (s *Sampler) Binomial(n int, p float64) int {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	}
	return int(distuv.Binomial{N: float64(n), P: p, Src: s.src}.Rand())
}

// Poisson returns a Poisson draw with mean lambda.
func (s *Sampler) Poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	return int(distuv.Poisson{Lambda: lambda, Src: s.src}.Rand())
}

// Normal returns a normal draw.
func (s *Sampler) Normal(mu, sigma float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: s.src}.Rand()
}

// LogNormal returns a log-normal draw with log-scale parameters mu and sigma.
func (s *Sampler) LogNormal(mu, sigma float64) float64 {
	return distuv.LogNormal{Mu: mu, Sigma: sigma, Src: s.src}.Rand()
}

// Gamma returns a gamma draw parameterised by mean and standard deviation.
func (s *Sampler) Gamma(mean, sd float64) float64 {
	alpha, beta := gammaShapeRate(mean, sd)
	return distuv.Gamma{Alpha: alpha, Beta: beta, Src: s.src}.Rand()
}

func gammaShapeRate(mean, sd float64) (alpha, beta float64) {
	variance := sd * sd
	return mean * mean / variance, mean / variance
}
