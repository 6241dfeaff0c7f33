// Package handler implements the single request-handling pipeline spec.md
// §4.7 describes: parse, authorize, cache lookup, route, batch-or-retry
// submit, cache store, plus the fan-out aggregation special case for the
// three `*/list` methods.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/meshmcp/meshmcp/pkg/authhook"
	"github.com/meshmcp/meshmcp/pkg/batch"
	"github.com/meshmcp/meshmcp/pkg/cache"
	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/health"
	"github.com/meshmcp/meshmcp/pkg/jsonrpc"
	"github.com/meshmcp/meshmcp/pkg/logger"
	"github.com/meshmcp/meshmcp/pkg/obsv"
	"github.com/meshmcp/meshmcp/pkg/registry"
	"github.com/meshmcp/meshmcp/pkg/router"
	"github.com/meshmcp/meshmcp/pkg/transport"
)

// Config tunes the handler's retry and per-call timeout behavior (spec.md
// §4.6 "per-request failure and retry").
type Config struct {
	MaxRetries     int
	RetryUnit      time.Duration
	BackendTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults: 3 attempts, 100ms
// linear backoff unit, 30s per-call timeout.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryUnit: 100 * time.Millisecond, BackendTimeout: 30 * time.Second}
}

// Handler wires together every hot-path collaborator for one incoming
// client request. It never holds a registry reference past the end of a
// request (spec.md §4.7): each call takes its own Snapshot via
// reg.Current() and never stores it.
type Handler struct {
	reg        *registry.Registry
	router     *router.Router
	checker    *health.Checker
	transports *transport.Factory
	cache      *cache.Cache
	batch      *batch.Aggregator
	authz      authhook.Authorizer
	metrics    *obsv.Metrics
	cfg        Config
}

// New constructs a Handler from its collaborators. authz may be nil, in
// which case authhook.AllowAll is used. metrics may be nil, in which case
// request outcomes go unrecorded.
func New(reg *registry.Registry, rt *router.Router, checker *health.Checker, transports *transport.Factory, c *cache.Cache, b *batch.Aggregator, authz authhook.Authorizer, metrics *obsv.Metrics, cfg Config) *Handler {
	if authz == nil {
		authz = authhook.AllowAll{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = 100 * time.Millisecond
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 30 * time.Second
	}
	return &Handler{reg: reg, router: rt, checker: checker, transports: transports, cache: c, batch: b, authz: authz, metrics: metrics, cfg: cfg}
}

// aggregationMethods is the fixed fan-out set named in spec.md §4.7.
var aggregationMethods = map[string]bool{
	"tools/list":     true,
	"resources/list": true,
	"prompts/list":   true,
}

// Handle runs req through the full pipeline and always returns a
// well-formed JSON-RPC response (errors are embedded, never returned as a
// Go error, so the server front-end has one uniform write path).
func (h *Handler) Handle(ctx context.Context, identity *authhook.Identity, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	resp := h.handle(ctx, identity, sessionID, req)
	if h.metrics != nil {
		status := "ok"
		if resp != nil && resp.Error != nil {
			status = "error"
		}
		h.metrics.RecordRequest(req.Method, status, time.Since(start))
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, identity *authhook.Identity, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
	allowed, err := h.authz.Authorize(ctx, identity, req.Method, req.Params)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "authorization check failed: "+err.Error())
	}
	if !allowed {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidRequest, "unauthorized")
	}

	if aggregationMethods[req.Method] {
		return h.handleAggregation(ctx, req)
	}
	return h.handleSingle(ctx, req, sessionID)
}

// handleSingle is the non-aggregation path: cache.get, route once, submit
// (batched or retried), cache.set.
func (h *Handler) handleSingle(ctx context.Context, req *jsonrpc.Request, sessionID string) *jsonrpc.Response {
	cacheable := cache.Cacheable(req.Method)
	key := jsonrpc.CacheKey(req.Method, req.Params)

	if cacheable {
		if cached, hit := h.cache.Get(req.Method, key); hit {
			return jsonrpc.NewResultResponse(req.ID, cached)
		}
	}

	snap := h.reg.Current()
	decision, err := h.router.Route(ctx, snap, req.Method, req.Params, sessionID)
	if err != nil {
		return errorResponseFor(req.ID, err)
	}
	defer h.router.Release(decision.BackendID)

	outgoing, _ := json.Marshal(req)
	raw, err := h.submit(ctx, snap, decision.BackendID, req.Method, outgoing)
	if err != nil {
		return errorResponseFor(req.ID, err)
	}

	result, err := extractResult(raw)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "malformed backend response: "+err.Error())
	}

	if cacheable {
		h.cache.Set(req.Method, key, result)
	}
	return jsonrpc.NewResultResponse(req.ID, result)
}

// submit routes a single backend call through the batch aggregator (so
// concurrent identical calls to the same backend+method coalesce, spec.md
// §4.4) when one is configured, falling back to a direct retrying submit
// otherwise.
func (h *Handler) submit(ctx context.Context, snap *registry.Snapshot, backendID, method string, outgoing []byte) ([]byte, error) {
	if h.batch != nil {
		return h.batch.Submit(ctx, backendID, method, outgoing, func(ctx context.Context, request []byte) ([]byte, error) {
			return h.submitWithRetry(ctx, snap, backendID, method, request)
		})
	}
	return h.submitWithRetry(ctx, snap, backendID, method, outgoing)
}

// submitWithRetry drives the spec.md §4.6 retry contract: up to
// cfg.MaxRetries attempts, 100ms×attempt linear backoff, retryable
// failures only. Every attempt's outcome feeds the backend's Tracker and
// Breaker regardless of whether the overall call eventually succeeds.
func (h *Handler) submitWithRetry(ctx context.Context, snap *registry.Snapshot, backendID, method string, request []byte) ([]byte, error) {
	d := snap.Get(backendID)
	if d == nil {
		return nil, mcperrors.NewInternalError("backend no longer in snapshot: "+backendID, nil)
	}

	tr, err := h.transports.For(d)
	if err != nil {
		return nil, mcperrors.NewInternalError("no transport for backend "+backendID, err)
	}
	entry := h.checker.Entry(backendID, health.Thresholds{
		HealthyThreshold:   d.HealthCheck.HealthyThreshold,
		UnhealthyThreshold: d.HealthCheck.UnhealthyThreshold,
	}, health.BreakerParams{
		FailureThreshold: d.CircuitBreaker.FailureThreshold,
		SuccessThreshold: d.CircuitBreaker.SuccessThreshold,
		Timeout:          d.CircuitBreaker.Timeout,
		HalfOpenLimit:    d.CircuitBreaker.HalfOpenLimit,
	})

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		// The first attempt was already admitted by the router's selection
		// (health.Breaker.ShouldAdmit, spec.md §4.2/§8); re-check here for
		// every retry in case this attempt's own failure just tripped the
		// breaker, so a still-Open backend doesn't keep absorbing retries.
		if attempt > 1 && !entry.Breaker.ShouldAdmit() {
			return nil, backoff.Permanent(mcperrors.NewCircuitOpenError("circuit breaker open for backend "+backendID, nil))
		}

		callCtx, cancel := context.WithTimeout(ctx, h.cfg.BackendTimeout)
		defer cancel()

		start := time.Now()
		resp, err := tr.Submit(callCtx, request)
		elapsed := time.Since(start)

		if err == nil {
			entry.Tracker.RecordSuccess(elapsed)
			entry.Breaker.RecordSuccess()
			return resp, nil
		}

		entry.Tracker.RecordFailure()
		entry.Breaker.RecordFailure()
		if !transport.Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{unit: h.cfg.RetryUnit}),
		backoff.WithMaxTries(uint(h.cfg.MaxRetries)),
	)
	if err != nil {
		logger.Warnw("backend submit failed after retries", "backend", backendID, "method", method, "error", err)
		return nil, err
	}
	return result, nil
}

// linearBackOff implements backoff.BackOff with the 100ms×attempt linear
// delay spec.md §4.6 requires, in place of the package's usual exponential
// curve (already used for HTTP-transport-level retries in pkg/transport).
type linearBackOff struct {
	attempt int
	unit    time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.unit
}

// extractResult pulls the "result" field out of a raw backend JSON-RPC
// response, or surfaces its embedded error.
func extractResult(raw []byte) (json.RawMessage, error) {
	var resp jsonrpc.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mcperrors.NewTransportTerminalError(resp.Error.Message, resp.Error)
	}
	return resp.Result, nil
}

// errorResponseFor maps an internal error to the JSON-RPC error response
// the client sees, using a code that reflects its category (spec.md §7).
func errorResponseFor(id json.RawMessage, err error) *jsonrpc.Response {
	code := jsonrpc.CodeInternalError
	switch {
	case mcperrors.IsUnauthorized(err):
		code = jsonrpc.CodeInvalidRequest
	case mcperrors.IsInvalidArgument(err):
		code = jsonrpc.CodeInvalidParams
	case mcperrors.IsNoBackendAvailable(err), mcperrors.IsAllBackendsUnhealthy(err), mcperrors.IsCircuitOpen(err):
		code = jsonrpc.CodeInternalError
	}
	return jsonrpc.NewErrorResponse(id, code, err.Error())
}
