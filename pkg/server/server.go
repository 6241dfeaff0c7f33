// Package server implements the HTTP front-end: a single MCP JSON-RPC
// endpoint plus an admin health endpoint, graceful shutdown, and an
// optional metrics exposition seam, following the same chi router +
// http.Server{BaseContext} + goroutine-serve shape the teacher's own API
// server uses (spec.md §5/§6).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meshmcp/meshmcp/pkg/authhook"
	"github.com/meshmcp/meshmcp/pkg/health"
	"github.com/meshmcp/meshmcp/pkg/handler"
	"github.com/meshmcp/meshmcp/pkg/jsonrpc"
	"github.com/meshmcp/meshmcp/pkg/logger"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxRequestBytes   = 4 << 20 // 4MiB
)

// Config configures the Server.
type Config struct {
	Host string
	Port int

	// ShutdownTimeout bounds how long Shutdown waits for in-flight requests
	// to drain before giving up.
	ShutdownTimeout time.Duration

	// MetricsHandler, if set, is mounted at /metrics. Typically
	// promhttp.HandlerFor(obsvMetrics.Registry, promhttp.HandlerOpts{}).
	MetricsHandler http.Handler

	// AuthMiddleware, if set, wraps the /mcp route so incoming
	// authentication (spec.md §1) runs before the handler's own
	// authhook.Authorizer check.
	AuthMiddleware func(http.Handler) http.Handler

	// Version is reported on the /health endpoint (spec.md §6).
	Version string
}

// DefaultConfig returns the documented defaults: 127.0.0.1:8080, 30s
// shutdown drain.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 8080, ShutdownTimeout: 30 * time.Second}
}

// Server is the HTTP front-end wrapping a Handler.
type Server struct {
	cfg     Config
	h       *handler.Handler
	reg     *registry.Registry
	checker *health.Checker
	srv     *http.Server
}

// New constructs a Server. reg and checker back the /health endpoint;
// checker may be nil if health polling is disabled.
func New(cfg Config, h *handler.Handler, reg *registry.Registry, checker *health.Checker) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{cfg: cfg, h: h, reg: reg, checker: checker}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Timeout(middlewareTimeout))

	r.Get("/health", s.handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	mcpHandler := http.HandlerFunc(s.handleMCP)
	if cfg.AuthMiddleware != nil {
		r.Mount("/mcp", cfg.AuthMiddleware(mcpHandler))
	} else {
		r.Handle("/mcp", mcpHandler)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Address returns the address the server listens on once Start has been
// called.
func (s *Server) Address() string { return s.srv.Addr }

// Start runs the server until ctx is canceled, then drains in-flight
// requests for up to cfg.ShutdownTimeout before returning.
func (s *Server) Start(ctx context.Context) error {
	s.srv.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting meshmcp server on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Infof("meshmcp server stopped")
	return nil
}

// healthResponse is the /health endpoint's body (spec.md §6 external
// interface contract).
type healthResponse struct {
	Status   string            `json:"status"`
	Servers  int               `json:"servers"`
	Version  string            `json:"version"`
	Backends map[string]string `json:"backends,omitempty"`
}

// The two healthResponse.Status values spec.md §6 names; handleHealth picks
// one from backend count and health state and reports the per-backend
// breakdown alongside it for operators (spec.md §4.2).
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// handleHealth reports 200 when at least one backend is configured and
// currently healthy or degraded, 503 otherwise (spec.md §6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: statusUnhealthy, Version: s.cfg.Version}
	if s.reg != nil {
		resp.Servers = len(s.reg.Current().All())
	}

	anyUp := false
	if s.checker != nil {
		states := s.checker.States()
		resp.Backends = make(map[string]string, len(states))
		for id, state := range states {
			resp.Backends[id] = state.String()
			if state == health.Healthy || state == health.Degraded {
				anyUp = true
			}
		}
	}

	code := http.StatusServiceUnavailable
	if resp.Servers > 0 && anyUp {
		resp.Status = statusHealthy
		code = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleMCP decodes one JSON-RPC request, runs it through the handler
// pipeline, and writes back the response. Notifications (no id) get a bare
// 202 Accepted with no body, per JSON-RPC 2.0 semantics.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req jsonrpc.Request
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, jsonrpc.CodeParseError, "failed to parse request: "+err.Error())
		return
	}

	var identity *authhook.Identity
	if v, ok := authhook.IdentityFromContext(r.Context()); ok {
		identity = v
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	resp := s.h.Handle(r.Context(), identity, sessionID, &req)

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, message))
}
