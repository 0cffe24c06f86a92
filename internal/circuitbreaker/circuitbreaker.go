// Package circuitbreaker implements a process-wide, per-provider circuit
// breaker: closed by default, opening after a run of consecutive failures
// and trialing recovery on a cooldown. It backs the reranker fallback path.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker's current disposition.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a per-provider, process-wide circuit breaker: opens after
// Threshold consecutive failures, allows one trial call after Cooldown
// (half-open), and closes again on that trial's success.
type Breaker struct {
	mu              sync.Mutex
	threshold       int
	cooldown        time.Duration
	state           State
	consecutiveFail int
	openedAt        time.Time
}

// New creates a Breaker. threshold is the number of consecutive failures
// that opens the circuit; cooldown is how long it stays open before a
// half-open trial is allowed.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call should be attempted right now. It also
// transitions Open -> HalfOpen once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFail = 0
}

// RecordFailure bumps the failure count and opens the breaker once
// threshold consecutive failures have been observed, or immediately
// re-opens it if the half-open trial itself failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.threshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// State returns the current disposition (for observability/tests).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry is a process-wide map of named breakers (one per provider),
// guarded by its own mutex so lookups are safe from concurrent requests.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewRegistry creates a Registry that lazily constructs a Breaker per
// provider name with the given threshold/cooldown.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// For returns the Breaker for the given provider, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.threshold, r.cooldown)
		r.breakers[provider] = b
	}
	return b
}
