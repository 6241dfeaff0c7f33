package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_StartsUnknown(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 2, UnhealthyThreshold: 3})
	assert.Equal(t, Unknown, tr.State())
}

func TestTracker_BecomesHealthyAfterThreshold(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 2, UnhealthyThreshold: 3})
	tr.RecordSuccess(10 * time.Millisecond)
	assert.NotEqual(t, Healthy, tr.State())

	tr.RecordSuccess(10 * time.Millisecond)
	assert.Equal(t, Healthy, tr.State())
}

func TestTracker_DegradesOnAnyFailure(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 3})
	tr.RecordSuccess(time.Millisecond)
	require := Healthy
	assert.Equal(t, require, tr.State())

	tr.RecordFailure()
	assert.Equal(t, Degraded, tr.State())
}

func TestTracker_BecomesUnhealthyAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 2})
	tr.RecordFailure()
	assert.Equal(t, Degraded, tr.State())
	tr.RecordFailure()
	assert.Equal(t, Unhealthy, tr.State())
}

func TestTracker_FailureResetsSuccessCounter(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 3, UnhealthyThreshold: 5})
	tr.RecordSuccess(time.Millisecond)
	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	tr.RecordSuccess(time.Millisecond)
	tr.RecordSuccess(time.Millisecond)
	// Needed 3 consecutive successes; the failure reset the streak so this
	// is only the second since the reset.
	assert.NotEqual(t, Healthy, tr.State())
}

func TestTracker_SuccessResetsFailureCounter(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 2})
	tr.RecordFailure()
	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	assert.Equal(t, Degraded, tr.State(), "failure counter should have reset on the intervening success")
}

func TestTracker_LatencyEWMA(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 2})
	tr.RecordSuccess(100 * time.Millisecond)
	tr.RecordSuccess(0)

	snap := tr.Snapshot()
	expected := time.Duration(0.9*float64(100*time.Millisecond) + 0.1*0)
	assert.Equal(t, expected, snap.LatencyEWMA)
}

func TestTracker_ErrorRateEWMA(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 5})
	tr.RecordFailure()
	snap := tr.Snapshot()
	assert.InDelta(t, 0.1, snap.ErrorRateEWMA, 1e-9)

	tr.RecordFailure()
	snap = tr.Snapshot()
	assert.InDelta(t, 0.19, snap.ErrorRateEWMA, 1e-9)
}

func TestTracker_OnTransitionFires(t *testing.T) {
	t.Parallel()

	tr := NewTracker(Thresholds{HealthyThreshold: 1, UnhealthyThreshold: 2})
	var got []State
	tr.OnTransition(func(_, to State) { got = append(got, to) })

	tr.RecordSuccess(time.Millisecond)
	tr.RecordFailure()
	tr.RecordFailure()

	assert.Equal(t, []State{Healthy, Degraded, Unhealthy}, got)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
}
