package critic

import (
	"sync"
	"time"
)

// DefaultBreakerThreshold is the number of consecutive failures before a
// critic's circuit opens.
const DefaultBreakerThreshold = 3

// DefaultBreakerCooldown is how long an open circuit stays open before a
// probe invocation is allowed through.
const DefaultBreakerCooldown = 30 * time.Second

// Breaker is a per-critic circuit breaker. After threshold consecutive
// failures the circuit opens and the critic is reported as degraded
// instead of being invoked; after the cool-down one probe call is let
// through and its outcome closes or re-opens the circuit.
type Breaker struct {
	mu                  sync.Mutex
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	open                bool
	openedAt            time.Time
	now                 func() time.Time
}

// NewBreaker creates a circuit breaker. Non-positive threshold or
// cooldown fall back to the defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether an invocation may proceed. During cool-down it
// returns false; once the cool-down elapses a single probe is allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		// Half-open probe. Keep the circuit open; RecordSuccess closes it.
		b.openedAt = b.now()
		return true
	}
	return false
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.open = false
}

// RecordFailure counts a failure. Returns true if this failure tripped
// the circuit open.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = b.now()
		return true
	}
	if b.open {
		// Failed probe re-arms the cool-down.
		b.openedAt = b.now()
	}
	return false
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// BreakerRegistry holds one breaker per critic id. Process-wide shared
// state: all runs see the same circuits.
type BreakerRegistry struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	breakers  map[string]*Breaker
}

// NewBreakerRegistry creates a registry with shared settings.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		threshold: threshold,
		cooldown:  cooldown,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for a critic id, creating it on first use.
func (r *BreakerRegistry) Get(criticID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[criticID]; ok {
		return b
	}
	b := NewBreaker(r.threshold, r.cooldown)
	r.breakers[criticID] = b
	return b
}

// Status returns open/closed state per known critic id.
func (r *BreakerRegistry) Status() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.Open()
	}
	return out
}
