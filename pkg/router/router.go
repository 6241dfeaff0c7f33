// Package router selects a backend for one request given a registry
// snapshot and the live health/circuit-breaker state of its candidates
// (spec.md ยง4.6).
package router

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/health"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// Algorithm selects among admittable candidates (spec.md ยง4.6 step 4).
type Algorithm string

// Supported algorithms.
const (
	RoundRobin       Algorithm = "round_robin"
	LeastConnections Algorithm = "least_connections"
	ConsistentHash   Algorithm = "consistent_hash"
	Random           Algorithm = "random"
	WeightedRandom   Algorithm = "weighted_random"
)

// Config tunes the router.
type Config struct {
	Algorithm     Algorithm
	StickyEnabled bool
}

// Decision is the outcome of a successful Route call.
type Decision struct {
	BackendID string
	ETA       time.Duration
}

// Router picks a backend per request and tracks per-backend active
// connection counts and sticky-session bindings across calls.
type Router struct {
	cfg     Config
	checker *health.Checker

	rrCounter atomic.Uint64

	connMu sync.Mutex
	conns  map[string]*atomic.Int64

	stickyMu sync.Mutex
	sticky   map[string]string // session id -> backend id
}

// New constructs a Router. checker supplies live health/breaker state for
// every backend id the router is asked to consider.
func New(cfg Config, checker *health.Checker) *Router {
	return &Router{
		cfg:     cfg,
		checker: checker,
		conns:   make(map[string]*atomic.Int64),
		sticky:  make(map[string]string),
	}
}

// ToolName derives the routing key named in spec.md ยง4.6 step 1: for
// tools/call it is params.name; for every other method it is the method
// itself.
func ToolName(method string, params json.RawMessage) string {
	if method != "tools/call" || len(params) == 0 {
		return method
	}
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return method
	}
	return p.Name
}

// Route implements spec.md ยง4.6's algorithm end to end: tool derivation,
// candidate lookup, admittable filtering, sticky-session short-circuit, and
// algorithm-driven selection. It increments the chosen backend's connection
// count; callers must call Release(backendID) exactly once when the call
// completes.
func (r *Router) Route(ctx context.Context, snap *registry.Snapshot, method string, params json.RawMessage, sessionID string) (Decision, error) {
	tool := ToolName(method, params)

	candidates := snap.CandidatesForTool(tool)
	if len(candidates) == 0 {
		return Decision{}, mcperrors.NewNoBackendAvailableError(tool, nil)
	}

	admittable := r.admittableSet(candidates)
	if len(admittable) == 0 {
		return Decision{}, mcperrors.NewAllBackendsUnhealthyError(tool, nil)
	}

	if r.cfg.StickyEnabled && sessionID != "" {
		if id, ok := r.stickyBackend(sessionID, admittable); ok {
			return r.admit(snap, id)
		}
	}

	admittableIDs := make([]string, 0, len(admittable))
	for id := range admittable {
		admittableIDs = append(admittableIDs, id)
	}
	// Map iteration order is random; sort so round robin cycles in a stable
	// order across calls.
	sort.Strings(admittableIDs)

	var chosen string
	switch r.cfg.Algorithm {
	case LeastConnections:
		chosen = r.pickLeastConnections(admittableIDs)
	case ConsistentHash:
		key := tool
		if sessionID != "" {
			key = sessionID
		}
		id, ok := snap.Ring().Lookup(key, admittable)
		if !ok {
			return Decision{}, mcperrors.NewAllBackendsUnhealthyError(tool, nil)
		}
		chosen = id
	case Random:
		chosen = admittableIDs[rand.IntN(len(admittableIDs))]
	case WeightedRandom:
		chosen = r.pickWeightedRandom(snap, admittableIDs)
	default:
		chosen = r.pickRoundRobin(admittableIDs)
	}

	if r.cfg.StickyEnabled && sessionID != "" {
		r.stickyMu.Lock()
		r.sticky[sessionID] = chosen
		r.stickyMu.Unlock()
	}

	return r.admit(snap, chosen)
}

// Release decrements the active-connection count for backendID, to be
// called once the call Route chose a backend for has completed (spec.md
// ยง4.6 step 5).
func (r *Router) Release(backendID string) {
	r.connMu.Lock()
	c, ok := r.conns[backendID]
	r.connMu.Unlock()
	if ok {
		c.Add(-1)
	}
}

// admit reserves backendID's half-open probe slot if its breaker is Open
// past its timeout (the backend actually selected, not merely a filtered
// candidate, must call ShouldAdmit so Open->HalfOpen advancement and the
// half_open_limit cap are enforced, spec.md §4.2/§8), increments its
// connection count, and returns the Decision with its current smoothed
// latency as the ETA hint.
func (r *Router) admit(snap *registry.Snapshot, backendID string) (Decision, error) {
	d := snap.Get(backendID)
	if d == nil {
		return Decision{}, mcperrors.NewInternalError("backend no longer in snapshot: "+backendID, nil)
	}

	entry := r.checker.Entry(backendID, health.Thresholds{
		HealthyThreshold:   d.HealthCheck.HealthyThreshold,
		UnhealthyThreshold: d.HealthCheck.UnhealthyThreshold,
	}, health.BreakerParams{
		FailureThreshold: d.CircuitBreaker.FailureThreshold,
		SuccessThreshold: d.CircuitBreaker.SuccessThreshold,
		Timeout:          d.CircuitBreaker.Timeout,
		HalfOpenLimit:    d.CircuitBreaker.HalfOpenLimit,
	})
	if !entry.Breaker.ShouldAdmit() {
		return Decision{}, mcperrors.NewCircuitOpenError("circuit breaker open for backend "+backendID, nil)
	}

	r.connMu.Lock()
	c, ok := r.conns[backendID]
	if !ok {
		c = &atomic.Int64{}
		r.conns[backendID] = c
	}
	r.connMu.Unlock()
	c.Add(1)

	eta := entry.Tracker.Snapshot().LatencyEWMA
	return Decision{BackendID: backendID, ETA: eta}, nil
}

// FilterAdmittable returns the subset of candidateIDs whose health state is
// Healthy or Degraded and whose circuit breaker currently admits. The
// handler's fan-out aggregation path (spec.md §4.7) uses this directly
// since it queries every admittable backend rather than selecting one.
func (r *Router) FilterAdmittable(candidateIDs []string) []string {
	admittable := r.admittableSet(candidateIDs)
	out := make([]string, 0, len(admittable))
	for id := range admittable {
		out = append(out, id)
	}
	return out
}

// admittableSet filters candidates to those whose health state is Healthy
// or Degraded and whose circuit breaker currently admits (spec.md ยง4.6
// step 3), ensuring every candidate has a live Tracker/Breaker entry.
func (r *Router) admittableSet(candidateIDs []string) map[string]bool {
	out := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		entry := r.checker.Entry(id, health.Thresholds{}, health.BreakerParams{})
		state := entry.Tracker.State()
		if (state == health.Healthy || state == health.Degraded) && entry.Breaker.Admits() {
			out[id] = true
		}
	}
	return out
}

func (r *Router) stickyBackend(sessionID string, admittable map[string]bool) (string, bool) {
	r.stickyMu.Lock()
	id, ok := r.sticky[sessionID]
	if ok && !admittable[id] {
		// Stale mapping: the bound backend is gone or no longer
		// admittable. Discard it lazily rather than scanning proactively.
		delete(r.sticky, sessionID)
		ok = false
	}
	r.stickyMu.Unlock()
	return id, ok
}

func (r *Router) pickRoundRobin(ids []string) string {
	n := r.rrCounter.Add(1) - 1
	return ids[n%uint64(len(ids))]
}

func (r *Router) pickLeastConnections(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	i, j := rand.IntN(len(ids)), rand.IntN(len(ids)-1)
	if j >= i {
		j++
	}
	a, b := ids[i], ids[j]
	if r.connCount(a) <= r.connCount(b) {
		return a
	}
	return b
}

func (r *Router) connCount(id string) int64 {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if c, ok := r.conns[id]; ok {
		return c.Load()
	}
	return 0
}

func (r *Router) pickWeightedRandom(snap *registry.Snapshot, ids []string) string {
	total := 0
	weights := make([]int, len(ids))
	for i, id := range ids {
		w := 1
		if d := snap.Get(id); d != nil && d.Weight > 0 {
			w = d.Weight
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		return ids[rand.IntN(len(ids))]
	}
	target := rand.IntN(total)
	for i, w := range weights {
		if target < w {
			return ids[i]
		}
		target -= w
	}
	return ids[len(ids)-1]
}
