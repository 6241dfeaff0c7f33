package health

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's own state, independent of Tracker's
// health classification (spec.md ยง4.2).
type BreakerState int

// Breaker states.
const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

// String renders the state for logs and metrics labels.
func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerParams configures one backend's breaker.
type BreakerParams struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenLimit    int
}

// Breaker is a per-backend circuit breaker (spec.md ยง4.2 state table).
// Closed admits everything; Open admits nothing until Timeout elapses, at
// which point a bounded number of HalfOpen probes are let through.
type Breaker struct {
	mu sync.Mutex

	params BreakerParams

	state            BreakerState
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
	halfOpenInFlight int
}

// NewBreaker constructs a Breaker starting Closed.
func NewBreaker(p BreakerParams) *Breaker {
	if p.HalfOpenLimit <= 0 {
		p.HalfOpenLimit = 1
	}
	return &Breaker{params: p, state: Closed}
}

// ShouldAdmit reports whether a call may be attempted right now, advancing
// Open to HalfOpen if the timeout has elapsed. Each HalfOpen admission
// reserves one of HalfOpenLimit probe slots; callers that admit must
// eventually call RecordSuccess or RecordFailure to release it.
func (b *Breaker) ShouldAdmit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) < b.params.Timeout {
			return false
		}
		b.transitionLocked(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight >= b.params.HalfOpenLimit {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// Admits reports whether a call would currently be admitted, without
// reserving a half-open probe slot or advancing Open to HalfOpen. The
// router uses this to filter candidate backends before selection;
// ShouldAdmit is reserved for the backend actually chosen.
func (b *Breaker) Admits() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		return time.Since(b.openedAt) >= b.params.Timeout
	case HalfOpen:
		return b.halfOpenInFlight < b.params.HalfOpenLimit
	default:
		return false
	}
}

// RecordSuccess folds a successful call outcome into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.releaseHalfOpenSlotLocked()
		b.consecutiveOK++
		b.consecutiveFails = 0
		if b.consecutiveOK >= b.params.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	case Closed:
		b.consecutiveFails = 0
	}
}

// RecordFailure folds a failed call outcome into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.releaseHalfOpenSlotLocked()
		b.transitionLocked(Open)
	case Closed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.params.FailureThreshold {
			b.transitionLocked(Open)
		}
	}
}

// Trip forces the breaker Open regardless of its failure counters, used by
// the health checker when a backend's Tracker crosses into Unhealthy
// (spec.md ยง4.2 "the breaker also accepts a trip command").
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Open)
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionLocked changes state, resetting counters and the change
// timestamp. Caller must hold b.mu.
func (b *Breaker) transitionLocked(to BreakerState) {
	b.state = to
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.halfOpenInFlight = 0
	if to == Open {
		b.openedAt = time.Now()
	}
}

// releaseHalfOpenSlotLocked decrements the in-flight probe count, floored at
// zero. Caller must hold b.mu.
func (b *Breaker) releaseHalfOpenSlotLocked() {
	if b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}
