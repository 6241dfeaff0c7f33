// Package registry implements the atomic backend registry described in
// spec.md ยง3 and ยง4.5: an immutable snapshot of backend descriptors, the
// tool->backend index, and the consistent-hash ring, hot-swapped without a
// read-side lock.
package registry

import "time"

// TransportKind identifies which of the four wire styles a backend speaks
// (spec.md ยง3).
type TransportKind string

// Supported transport kinds.
const (
	TransportStdio       TransportKind = "stdio"
	TransportHTTP        TransportKind = "http"
	TransportSSE         TransportKind = "sse"
	TransportStreamable  TransportKind = "streamable"
)

// StdioSpec configures a child-process backend.
type StdioSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
	// Sandbox enables the RLIMIT_CPU/RLIMIT_AS/RLIMIT_NPROC and uid/gid
	// drop described in spec.md ยง4.1.
	Sandbox       bool
	MaxCPUPercent int
	MaxMemoryMB   int
}

// HTTPSpec configures an HTTP backend.
type HTTPSpec struct {
	URL     string
	Headers map[string]string
}

// SSESpec configures a Server-Sent-Events backend.
type SSESpec struct {
	URL     string
	Headers map[string]string
}

// StreamableSpec configures a Streamable-HTTP backend.
type StreamableSpec struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// HealthCheckParams carries per-backend health-check tuning (spec.md ยง4.2).
type HealthCheckParams struct {
	IntervalSeconds   int
	TimeoutSeconds    int
	HealthyThreshold  int
	UnhealthyThreshold int
	Path              string
}

// RoutingHints carries per-backend routing-engine tuning (spec.md ยง4.6).
type RoutingHints struct {
	// HashKeyHeader, when set, names the incoming request header used to
	// derive the ConsistentHash routing key instead of the tool name.
	HashKeyHeader string
}

// Descriptor is one backend's static configuration (spec.md ยง3 "Backend
// descriptor").
type Descriptor struct {
	ID      string
	Name    string
	Enabled bool

	Transport TransportKind
	Stdio     *StdioSpec
	HTTP      *HTTPSpec
	SSE       *SSESpec
	Streamable *StreamableSpec

	// Weight feeds the WeightedRandom routing algorithm; must be positive.
	Weight int

	// Tools is the set of tool names this backend advertises.
	Tools []string

	HealthCheck HealthCheckParams
	Routing     RoutingHints

	CircuitBreaker CircuitBreakerParams
}

// CircuitBreakerParams carries per-backend breaker tuning (spec.md ยง4.2).
type CircuitBreakerParams struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenLimit    int
}
