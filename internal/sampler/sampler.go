// Package sampler draws the next token from a model's output distribution.
package sampler

import (
	"math"
	"math/rand"
	"sync"
)

// MinTemperature is the lower clamp applied to every temperature.
const MinTemperature = 0.01

// Sampler performs temperature-scaled categorical draws. It is safe for
// concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func New(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// NewSeeded returns a Sampler backed by rand.NewSource(seed).
func NewSeeded(seed int64) *Sampler {
	return New(rand.New(rand.NewSource(seed)))
}

// Clamp returns t bounded below by MinTemperature.
func Clamp(t float64) float64 {
	if math.IsNaN(t) || t < MinTemperature {
		return MinTemperature
	}
	return t
}

// Reweight rescales the log-probabilities of probs by 1/t and renormalizes.
// Zero or negative entries stay at zero. If nothing is positive the result
// is all zeros.
func Reweight(probs []float64, t float64) []float64 {
	t = Clamp(t)
	out := make([]float64, len(probs))
	maxLog := math.Inf(-1)
	for _, p := range probs {
		if p > 0 {
			if l := math.Log(p) / t; l > maxLog {
				maxLog = l
			}
		}
	}
	if math.IsInf(maxLog, -1) {
		return out
	}
	sum := 0.0
	for i, p := range probs {
		if p > 0 {
			out[i] = math.Exp(math.Log(p)/t - maxLog)
			sum += out[i]
		}
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sample draws one index from probs under temperature t. The result is
// always in [0, len(probs)); it returns -1 only for an empty vector.
func (s *Sampler) Sample(probs []float64, t float64) int {
	if len(probs) == 0 {
		return -1
	}
	weights := Reweight(probs, t)

	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()

	last := -1
	acc := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		acc += w
		if r < acc {
			return i
		}
	}
	if last >= 0 {
		// rounding left r above the cumulative sum
		return last
	}
	return Argmax(probs)
}

// Intn returns a uniform index in [0, n).
func (s *Sampler) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Argmax returns the index of the largest entry, preferring the lowest index
// on ties.
func Argmax(probs []float64) int {
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best
}
