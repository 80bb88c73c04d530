// Package resilience provides the call policies applied around the
// engine's external backends: a circuit breaker guarding the durable
// memory store and a bounded single-retry helper.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker trips after a run of consecutive failures and rejects calls
// for a cooldown period. Once the cooldown elapses a single probe call
// is admitted; its outcome decides whether the circuit closes again or
// the cooldown restarts. At most one probe is in flight at a time, so
// a recovering memory backend sees one caller, not every scheduler
// pass at once.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	tripped  bool
	probing  bool
	since    time.Time
	clock    func() time.Time // test hook
}

// NewBreaker creates a breaker that trips after threshold consecutive
// failures and admits a probe after each cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Execute runs fn under the breaker policy, returning ErrCircuitOpen
// without calling fn while the circuit is rejecting.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()
	b.settle(probe, err)
	return err
}

// Tripped reports whether the circuit is currently rejecting calls.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped && b.clock().Sub(b.since) < b.cooldown
}

func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tripped {
		return false, true
	}
	if b.probing || b.clock().Sub(b.since) < b.cooldown {
		return false, false
	}
	b.probing = true
	return true, true
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if err == nil {
		b.failures = 0
		b.tripped = false
		return
	}

	b.failures++
	if probe || b.failures >= b.threshold {
		b.tripped = true
		b.since = b.clock()
	}
}
