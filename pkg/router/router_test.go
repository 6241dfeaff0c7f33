package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/health"
	"github.com/meshmcp/meshmcp/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desc(id string, weight int, tools ...string) *registry.Descriptor {
	return &registry.Descriptor{
		ID:        id,
		Enabled:   true,
		Transport: registry.TransportHTTP,
		HTTP:      &registry.HTTPSpec{URL: "http://" + id},
		Weight:    weight,
		Tools:     tools,
		HealthCheck: registry.HealthCheckParams{
			HealthyThreshold:   1,
			UnhealthyThreshold: 3,
		},
		CircuitBreaker: registry.CircuitBreakerParams{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          time.Second,
			HalfOpenLimit:    1,
		},
	}
}

// markHealthy drives a checker's entry for id to Healthy/Closed so the
// router's admittable filter accepts it by default.
func markHealthy(t *testing.T, c *health.Checker, d *registry.Descriptor) {
	t.Helper()
	entry := c.Entry(d.ID, health.Thresholds{HealthyThreshold: d.HealthCheck.HealthyThreshold, UnhealthyThreshold: d.HealthCheck.UnhealthyThreshold},
		health.BreakerParams{FailureThreshold: d.CircuitBreaker.FailureThreshold, SuccessThreshold: d.CircuitBreaker.SuccessThreshold, Timeout: d.CircuitBreaker.Timeout, HalfOpenLimit: d.CircuitBreaker.HalfOpenLimit})
	entry.Tracker.RecordSuccess(time.Millisecond)
}

func TestToolName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "search", ToolName("tools/call", json.RawMessage(`{"name":"search","arguments":{}}`)))
	assert.Equal(t, "resources/read", ToolName("resources/read", nil))
	assert.Equal(t, "tools/call", ToolName("tools/call", nil))
}

func TestRoute_NoBackendAvailable(t *testing.T) {
	t.Parallel()

	reg := registry.New(nil, 10)
	checker := health.NewChecker(nil, nil)
	r := New(Config{Algorithm: RoundRobin}, checker)

	_, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"missing"}`), "")
	require.Error(t, err)
	assert.True(t, mcperrors.IsNoBackendAvailable(err))
}

func TestRoute_AllBackendsUnhealthy(t *testing.T) {
	t.Parallel()

	d := desc("a", 1, "search")
	reg := registry.New([]*registry.Descriptor{d}, 10)
	checker := health.NewChecker(nil, nil)
	r := New(Config{Algorithm: RoundRobin}, checker)

	_, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.Error(t, err)
	assert.True(t, mcperrors.IsAllBackendsUnhealthy(err))
}

func TestRoute_RoundRobinCyclesThroughCandidates(t *testing.T) {
	t.Parallel()

	a, b := desc("a", 1, "search"), desc("b", 1, "search")
	reg := registry.New([]*registry.Descriptor{a, b}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)
	markHealthy(t, checker, b)

	r := New(Config{Algorithm: RoundRobin}, checker)
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
		require.NoError(t, err)
		seen[d.BackendID]++
		r.Release(d.BackendID)
	}
	assert.Equal(t, 2, seen["a"])
	assert.Equal(t, 2, seen["b"])
}

func TestRoute_RandomAlwaysPicksAdmittable(t *testing.T) {
	t.Parallel()

	a := desc("a", 1, "search")
	reg := registry.New([]*registry.Descriptor{a}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)

	r := New(Config{Algorithm: Random}, checker)
	d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "a", d.BackendID)
}

func TestRoute_WeightedRandomOnlyPicksZeroWeightWhenAlone(t *testing.T) {
	t.Parallel()

	a := desc("a", 0, "search")
	reg := registry.New([]*registry.Descriptor{a}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)

	r := New(Config{Algorithm: WeightedRandom}, checker)
	d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "a", d.BackendID)
}

func TestRoute_ConsistentHashIsDeterministicPerKey(t *testing.T) {
	t.Parallel()

	a, b := desc("a", 1, "search"), desc("b", 1, "search")
	reg := registry.New([]*registry.Descriptor{a, b}, 100)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)
	markHealthy(t, checker, b)

	r := New(Config{Algorithm: ConsistentHash}, checker)
	d1, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)
	r.Release(d1.BackendID)
	d2, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)

	assert.Equal(t, d1.BackendID, d2.BackendID)
}

func TestRoute_LeastConnectionsPrefersIdleBackend(t *testing.T) {
	t.Parallel()

	a, b := desc("a", 1, "search"), desc("b", 1, "search")
	reg := registry.New([]*registry.Descriptor{a, b}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)
	markHealthy(t, checker, b)

	r := New(Config{Algorithm: LeastConnections}, checker)

	// Load up "a" with outstanding connections, then leave it unreleased.
	for i := 0; i < 5; i++ {
		_, err := r.admit(reg.Current(), "a")
		require.NoError(t, err)
	}
	// With only two candidates, power-of-two-choices always compares both,
	// so the idle "b" is chosen.
	d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "b", d.BackendID)
}

func TestRoute_StickySessionShortCircuits(t *testing.T) {
	t.Parallel()

	a, b := desc("a", 1, "search"), desc("b", 1, "search")
	reg := registry.New([]*registry.Descriptor{a, b}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)
	markHealthy(t, checker, b)

	r := New(Config{Algorithm: RoundRobin, StickyEnabled: true}, checker)

	first, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "session-1")
	require.NoError(t, err)
	r.Release(first.BackendID)

	for i := 0; i < 5; i++ {
		d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "session-1")
		require.NoError(t, err)
		r.Release(d.BackendID)
		assert.Equal(t, first.BackendID, d.BackendID)
	}
}

func TestRoute_ConnectionCountTracksAdmitRelease(t *testing.T) {
	t.Parallel()

	a := desc("a", 1, "search")
	reg := registry.New([]*registry.Descriptor{a}, 10)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)

	r := New(Config{Algorithm: RoundRobin}, checker)
	d, err := r.Route(context.Background(), reg.Current(), "tools/call", json.RawMessage(`{"name":"search"}`), "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.connCount(d.BackendID))

	r.Release(d.BackendID)
	assert.EqualValues(t, 0, r.connCount(d.BackendID))
}

func TestFilterAdmittable_ExcludesUnhealthy(t *testing.T) {
	t.Parallel()

	a, b := desc("a", 1), desc("b", 1)
	checker := health.NewChecker(nil, nil)
	markHealthy(t, checker, a)
	// b is left Unknown, which admittableSet does not treat as admittable.

	r := New(Config{Algorithm: RoundRobin}, checker)
	got := r.FilterAdmittable([]string{"a", "b"})
	assert.Equal(t, []string{"a"}, got)
}
