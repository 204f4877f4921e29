package resilience

import (
	"sync"
	"time"
)

// Breaker state transitions are monotonic within one window:
// closed -> open -> half-open -> closed|open.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

const (
	breakerFailureThreshold = 10
	breakerOpenInterval     = 60 * time.Second
	breakerHalfOpenProbes   = 3
)

// Breaker is a per-operation-family circuit breaker. All sheet reads share
// one breaker, all transport sends another, so a flapping upstream is cut
// off as a whole rather than per call site.
type Breaker struct {
	mu                  sync.Mutex
	state               string
	consecutiveFailures int
	openedAt            time.Time
	halfOpenProbes      int

	now func() time.Time
}

func NewBreaker() *Breaker {
	return &Breaker{state: StateClosed, now: time.Now}
}

// Allow admits or rejects a call. While open it fails fast; after the open
// interval it moves to half-open and admits up to three probes.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < breakerOpenInterval {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenProbes = 0
		fallthrough
	default: // half-open
		if b.halfOpenProbes >= breakerHalfOpenProbes {
			return ErrCircuitOpen
		}
		b.halfOpenProbes++
		return nil
	}
}

// Success resets the breaker. Any half-open probe success closes it.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenProbes = 0
}

// Failure records a failed call, opening the breaker at the threshold or on
// any half-open probe failure.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.open()
		return
	}
	b.consecutiveFailures++
	if b.consecutiveFailures >= breakerFailureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.halfOpenProbes = 0
}

// State returns a consistent snapshot of the breaker state name.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	// An expired open window reads as half-open even before the next call.
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= breakerOpenInterval {
		return StateHalfOpen
	}
	return b.state
}
