package pipeline

import (
	"math/rand"
	"sync"
	"time"
)

// Sampler decides whether a request is evaluated at all, as a Bernoulli
// draw with the profile's sampling rate. The RNG is seeded once per
// process, not per request, so draws within a burst are not correlated.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler creates a process-seeded sampler.
func NewSampler() *Sampler {
	return &Sampler{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeededSampler creates a sampler with a fixed seed (for tests).
func NewSeededSampler(seed int64) *Sampler {
	return &Sampler{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// ShouldEvaluate draws against the sampling rate. At rate 1.0 the draw
// is skipped entirely so full-evaluation deployments stay deterministic;
// rates at or below zero never evaluate.
func (s *Sampler) ShouldEvaluate(rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < rate
}
