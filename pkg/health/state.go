// Package health implements the per-backend health state machine and the
// separate circuit breaker described in spec.md ยง4.2. The two concerns are
// deliberately kept apart: State tracks whether a backend is answering
// probes; Breaker tracks whether the router should still try sending it
// live traffic. The checker wires them together by calling Breaker.Trip
// when a backend's State crosses into Unhealthy.
package health

import (
	"sync"
	"time"
)

// State is a backend's health classification.
type State int

// Health states, in the order spec.md ยง4.2 describes them.
const (
	Unknown State = iota
	Healthy
	Degraded
	Unhealthy
)

// String renders the state for logs and metrics labels.
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Thresholds configures the consecutive-outcome counts needed to cross into
// Healthy or Unhealthy (spec.md ยง4.2).
type Thresholds struct {
	HealthyThreshold   int
	UnhealthyThreshold int
}

// Tracker is one backend's mutable health record: consecutive success/
// failure counters and EWMA latency/error-rate, guarded by a mutex since the
// checker and any inline probe can race to record an outcome.
type Tracker struct {
	mu sync.Mutex

	thresholds Thresholds

	state          State
	successCount   int
	failureCount   int
	latencyEWMA    time.Duration
	errorRateEWMA  float64
	lastTransition time.Time

	onTransition func(from, to State)
}

// NewTracker constructs a Tracker starting in Unknown.
func NewTracker(t Thresholds) *Tracker {
	return &Tracker{thresholds: t, state: Unknown, lastTransition: time.Time{}}
}

// OnTransition registers a callback invoked synchronously whenever the
// tracked state changes, used to log and to notify a Breaker's Trip.
func (t *Tracker) OnTransition(fn func(from, to State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTransition = fn
}

// State returns the current classification.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RecordSuccess folds a successful probe/call outcome into the tracker
// (spec.md ยง4.2: failure counter resets, success counter increments,
// latency EWMA mixes in the new sample at weight 0.1).
func (t *Tracker) RecordSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCount = 0
	t.successCount++
	if t.latencyEWMA == 0 {
		t.latencyEWMA = latency
	} else {
		t.latencyEWMA = time.Duration(0.9*float64(t.latencyEWMA) + 0.1*float64(latency))
	}
	t.errorRateEWMA *= 0.9

	if t.successCount >= t.thresholds.HealthyThreshold {
		t.transitionLocked(Healthy)
	}
}

// RecordFailure folds a failed probe/call outcome into the tracker
// (spec.md ยง4.2: success counter resets, failure counter increments, error
// rate EWMA mixes in a 1.0 sample at weight 0.1; any failure degrades, and
// UnhealthyThreshold consecutive failures mark Unhealthy).
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount = 0
	t.failureCount++
	t.errorRateEWMA = 0.9*t.errorRateEWMA + 0.1

	if t.failureCount >= t.thresholds.UnhealthyThreshold {
		t.transitionLocked(Unhealthy)
	} else {
		t.transitionLocked(Degraded)
	}
}

// Snapshot reports the tracker's current counters for metrics/admin
// endpoints.
type Snapshot struct {
	State         State
	SuccessCount  int
	FailureCount  int
	LatencyEWMA   time.Duration
	ErrorRateEWMA float64
}

// Snapshot returns a point-in-time copy of the tracker's fields.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:         t.state,
		SuccessCount:  t.successCount,
		FailureCount:  t.failureCount,
		LatencyEWMA:   t.latencyEWMA,
		ErrorRateEWMA: t.errorRateEWMA,
	}
}

// transitionLocked changes state and fires onTransition if it actually
// changed. Caller must hold t.mu.
func (t *Tracker) transitionLocked(to State) {
	if t.state == to {
		return
	}
	from := t.state
	t.state = to
	t.lastTransition = time.Now()
	if t.onTransition != nil {
		t.onTransition(from, to)
	}
}
