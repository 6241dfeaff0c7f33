// Package config loads and validates meshmcp's YAML configuration file and
// translates it into the descriptor/algorithm types the rest of the
// packages consume (spec.md §6). The loader and validator are kept as
// separate steps, mirroring the teacher's two-phase
// "load, then validate" pattern so a config can be syntax-checked without
// standing up any backend connections.
package config

import "time"

// Duration unmarshals YAML duration strings ("30s", "500ms") into a
// time.Duration, the same convenience the teacher's own Config carries.
type Duration time.Duration

// BackendConfig is one backend server entry in the YAML file.
type BackendConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`

	Transport string `yaml:"transport"`

	Stdio      *StdioConfig      `yaml:"stdio,omitempty"`
	HTTP       *HTTPConfig       `yaml:"http,omitempty"`
	SSE        *SSEConfig        `yaml:"sse,omitempty"`
	Streamable *StreamableConfig `yaml:"streamable,omitempty"`

	Weight int      `yaml:"weight"`
	Tools  []string `yaml:"tools"`

	HealthCheck    *HealthCheckConfig    `yaml:"health_check,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	Routing        *RoutingConfig        `yaml:"routing,omitempty"`
}

// StdioConfig configures a child-process backend.
type StdioConfig struct {
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Env           map[string]string `yaml:"env"`
	Cwd           string            `yaml:"cwd"`
	Sandbox       bool              `yaml:"sandbox"`
	MaxCPUPercent int               `yaml:"max_cpu_percent"`
	MaxMemoryMB   int               `yaml:"max_memory_mb"`
}

// HTTPConfig configures an HTTP backend.
type HTTPConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SSEConfig configures a Server-Sent-Events backend.
type SSEConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// StreamableConfig configures a Streamable-HTTP backend.
type StreamableConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`
}

// HealthCheckConfig carries per-backend health-check tuning.
type HealthCheckConfig struct {
	IntervalSeconds    int    `yaml:"interval_seconds"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	HealthyThreshold   int    `yaml:"healthy_threshold"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold"`
	Path               string `yaml:"path"`
}

// CircuitBreakerConfig carries per-backend breaker tuning.
type CircuitBreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	Timeout          Duration `yaml:"timeout"`
	HalfOpenLimit    int      `yaml:"half_open_limit"`
}

// RoutingConfig carries per-backend routing-engine tuning.
type RoutingConfig struct {
	HashKeyHeader string `yaml:"hash_key_header"`
}

// RouterConfig configures the routing engine (spec.md §4.6).
type RouterConfig struct {
	Algorithm     string `yaml:"algorithm"`
	StickyEnabled bool   `yaml:"sticky_enabled"`
}

// CacheTierConfig configures one cache tier's capacity and TTL.
type CacheTierConfig struct {
	Capacity int      `yaml:"capacity"`
	TTL      Duration `yaml:"ttl"`
}

// CacheConfig configures the three-tier cache (spec.md §4.3).
type CacheConfig struct {
	Enabled bool            `yaml:"enabled"`
	L1      CacheTierConfig `yaml:"l1"`
	L2      CacheTierConfig `yaml:"l2"`
	L3      CacheTierConfig `yaml:"l3"`
}

// BatchConfig configures the request batching aggregator (spec.md §4.4).
type BatchConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Window       Duration `yaml:"window"`
	MaxBatchSize int      `yaml:"max_batch_size"`
}

// RetryConfig configures the handler's per-request retry behavior
// (spec.md §4.7).
type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	RetryUnit      Duration `yaml:"retry_unit"`
	BackendTimeout Duration `yaml:"backend_timeout"`
}

// ServerConfig configures the HTTP front-end (spec.md §5).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransportConfig tunes the shared HTTP transport pool.
type TransportConfig struct {
	MaxConnsPerBackend int      `yaml:"max_conns_per_backend"`
	MaxIdleAge         Duration `yaml:"max_idle_age"`
	MaxRetries         int      `yaml:"max_retries"`
}

// RegistryConfig tunes the backend registry. VirtualNodes is the
// consistent-hash ring's per-backend virtual node count; zero selects
// registry.DefaultVirtualNodes.
type RegistryConfig struct {
	VirtualNodes int `yaml:"virtual_nodes"`
}

// Config is the top-level parsed and validated meshmcp configuration.
type Config struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`

	Backends []BackendConfig `yaml:"backends"`

	Router    RouterConfig    `yaml:"router"`
	Cache     CacheConfig     `yaml:"cache"`
	Batch     BatchConfig     `yaml:"batch"`
	Retry     RetryConfig     `yaml:"retry"`
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Registry  RegistryConfig  `yaml:"registry"`
}
