package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshmcp/meshmcp/pkg/logger"
	"github.com/meshmcp/meshmcp/pkg/obsv"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// Prober performs one transport-appropriate liveness probe against a
// backend (spec.md ยง4.2: HTTP POST <url>/health with an MCP health/check
// body, or STDIO `which` existence plus an optional --version spawn).
// pkg/transport supplies the concrete implementations; this package only
// depends on the interface to avoid a transport<->health import cycle.
type Prober interface {
	Probe(ctx context.Context, d *registry.Descriptor) error
}

// Entry bundles one backend's Tracker and Breaker, wired so a Tracker
// transition into Unhealthy trips the Breaker immediately.
type Entry struct {
	Tracker *Tracker
	Breaker *Breaker
}

// Checker runs one polling task per enabled backend and keeps a Tracker and
// Breaker per backend id.
type Checker struct {
	prober  Prober
	metrics *obsv.Metrics

	mu      sync.RWMutex
	entries map[string]*Entry

	stopped atomic.Bool
	wg      sync.WaitGroup
	cancels []context.CancelFunc
}

// NewChecker constructs a Checker. Call Start for each backend to begin
// polling it. metrics may be nil, in which case health and breaker
// transitions go unrecorded.
func NewChecker(prober Prober, metrics *obsv.Metrics) *Checker {
	return &Checker{prober: prober, metrics: metrics, entries: make(map[string]*Entry)}
}

// Entry returns the Tracker/Breaker pair for id, registering a fresh pair on
// first use so callers (e.g. the router, before the checker's first tick)
// always see a consistent Unknown/Closed starting point.
func (c *Checker) Entry(id string, thresholds Thresholds, breakerParams BreakerParams) *Entry {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e
	}
	e = &Entry{Tracker: NewTracker(thresholds), Breaker: NewBreaker(breakerParams)}
	e.Tracker.OnTransition(func(from, to State) {
		logger.Infow("backend health transition", "backend", id, "from", from.String(), "to", to.String())
		if c.metrics != nil {
			c.metrics.RecordBackendHealth(id, int(to))
		}
		if to == Unhealthy {
			e.Breaker.Trip()
			if c.metrics != nil {
				c.metrics.RecordBreakerTrip(id)
				c.metrics.RecordBreakerState(id, int(e.Breaker.State()))
			}
		}
	})
	c.entries[id] = e
	return e
}

// States returns the current health State of every backend the checker has
// an entry for, keyed by backend id. Used by the server's aggregate
// /health endpoint to report per-backend status alongside the overall
// service status.
func (c *Checker) States() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]State, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.Tracker.State()
	}
	return out
}

// Start launches the polling loop for one backend, ticking at
// interval (missed-tick-skip: a tick is dropped rather than queued if the
// previous probe for this backend is still running). The loop stops when
// ctx is cancelled or Stop is called.
func (c *Checker) Start(ctx context.Context, d *registry.Descriptor, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	entry := c.Entry(d.ID, Thresholds{
		HealthyThreshold:   d.HealthCheck.HealthyThreshold,
		UnhealthyThreshold: d.HealthCheck.UnhealthyThreshold,
	}, BreakerParams{
		FailureThreshold: d.CircuitBreaker.FailureThreshold,
		SuccessThreshold: d.CircuitBreaker.SuccessThreshold,
		Timeout:          d.CircuitBreaker.Timeout,
		HalfOpenLimit:    d.CircuitBreaker.HalfOpenLimit,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var busy atomic.Bool
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !busy.CompareAndSwap(false, true) {
					continue // previous probe still in flight; skip this tick
				}
				go func() {
					defer busy.Store(false)
					c.probeOnce(ctx, d, entry)
				}()
			}
		}
	}()
}

func (c *Checker) probeOnce(ctx context.Context, d *registry.Descriptor, entry *Entry) {
	timeout := time.Duration(d.HealthCheck.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.prober.Probe(probeCtx, d)
	latency := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordBackendLatency(d.ID, latency)
	}

	beforeState := entry.Breaker.State()
	if err != nil {
		entry.Tracker.RecordFailure()
		entry.Breaker.RecordFailure()
	} else {
		entry.Tracker.RecordSuccess(latency)
		entry.Breaker.RecordSuccess()
	}
	if c.metrics != nil {
		afterState := entry.Breaker.State()
		c.metrics.RecordBreakerState(d.ID, int(afterState))
		if afterState == Open && beforeState != Open {
			c.metrics.RecordBreakerTrip(d.ID)
		}
	}
}

// Stop cancels every backend's polling loop and waits for them to exit.
func (c *Checker) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	cancels := c.cancels
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.wg.Wait()
}
