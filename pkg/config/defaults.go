package config

import "time"

// Defaults mirrored from each collaborator package's own DefaultConfig, kept
// here as plain constants so this package does not need to import them.
const (
	defaultRouterAlgorithm = "round_robin"

	defaultCacheCapacity = 1000
	defaultL1TTL         = 10 * time.Second
	defaultL2TTL         = time.Minute
	defaultL3TTL         = 10 * time.Minute

	defaultBatchWindow       = 50 * time.Millisecond
	defaultBatchMaxSize      = 20
	defaultMaxRetries        = 3
	defaultRetryUnit         = 100 * time.Millisecond
	defaultBackendTimeout    = 30 * time.Second
	defaultServerHost        = "127.0.0.1"
	defaultServerPort        = 8080
	defaultMaxConnsPerBackend = 10
	defaultMaxIdleAge        = 5 * time.Minute
	defaultTransportRetries  = 3

	defaultHealthIntervalSeconds   = 10
	defaultHealthTimeoutSeconds    = 5
	defaultHealthyThreshold        = 2
	defaultUnhealthyThreshold      = 3
	defaultBreakerFailureThreshold = 5
	defaultBreakerSuccessThreshold = 2
	defaultBreakerTimeout          = 30 * time.Second
	defaultBreakerHalfOpenLimit    = 1
)

// EnsureDefaults fills every zero-valued field with its documented default.
// Called once after YAML parsing and before validation, so the validator
// only ever sees a fully-populated Config.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}

	if c.Router.Algorithm == "" {
		c.Router.Algorithm = defaultRouterAlgorithm
	}

	ensureTierDefaults(&c.Cache.L1, defaultL1TTL)
	ensureTierDefaults(&c.Cache.L2, defaultL2TTL)
	ensureTierDefaults(&c.Cache.L3, defaultL3TTL)

	if c.Batch.Window == 0 {
		c.Batch.Window = Duration(defaultBatchWindow)
	}
	if c.Batch.MaxBatchSize == 0 {
		c.Batch.MaxBatchSize = defaultBatchMaxSize
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = defaultMaxRetries
	}
	if c.Retry.RetryUnit == 0 {
		c.Retry.RetryUnit = Duration(defaultRetryUnit)
	}
	if c.Retry.BackendTimeout == 0 {
		c.Retry.BackendTimeout = Duration(defaultBackendTimeout)
	}

	if c.Server.Host == "" {
		c.Server.Host = defaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultServerPort
	}

	if c.Transport.MaxConnsPerBackend == 0 {
		c.Transport.MaxConnsPerBackend = defaultMaxConnsPerBackend
	}
	if c.Transport.MaxIdleAge == 0 {
		c.Transport.MaxIdleAge = Duration(defaultMaxIdleAge)
	}
	if c.Transport.MaxRetries == 0 {
		c.Transport.MaxRetries = defaultTransportRetries
	}

	for i := range c.Backends {
		ensureBackendDefaults(&c.Backends[i])
	}
}

func ensureTierDefaults(t *CacheTierConfig, ttl time.Duration) {
	if t.Capacity == 0 {
		t.Capacity = defaultCacheCapacity
	}
	if t.TTL == 0 {
		t.TTL = Duration(ttl)
	}
}

func ensureBackendDefaults(b *BackendConfig) {
	if b.Enabled == nil {
		enabled := true
		b.Enabled = &enabled
	}
	if b.Weight == 0 {
		b.Weight = 1
	}
	if b.HealthCheck == nil {
		b.HealthCheck = &HealthCheckConfig{}
	}
	if b.HealthCheck.IntervalSeconds == 0 {
		b.HealthCheck.IntervalSeconds = defaultHealthIntervalSeconds
	}
	if b.HealthCheck.TimeoutSeconds == 0 {
		b.HealthCheck.TimeoutSeconds = defaultHealthTimeoutSeconds
	}
	if b.HealthCheck.HealthyThreshold == 0 {
		b.HealthCheck.HealthyThreshold = defaultHealthyThreshold
	}
	if b.HealthCheck.UnhealthyThreshold == 0 {
		b.HealthCheck.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	if b.CircuitBreaker == nil {
		b.CircuitBreaker = &CircuitBreakerConfig{}
	}
	if b.CircuitBreaker.FailureThreshold == 0 {
		b.CircuitBreaker.FailureThreshold = defaultBreakerFailureThreshold
	}
	if b.CircuitBreaker.SuccessThreshold == 0 {
		b.CircuitBreaker.SuccessThreshold = defaultBreakerSuccessThreshold
	}
	if b.CircuitBreaker.Timeout == 0 {
		b.CircuitBreaker.Timeout = Duration(defaultBreakerTimeout)
	}
	if b.CircuitBreaker.HalfOpenLimit == 0 {
		b.CircuitBreaker.HalfOpenLimit = defaultBreakerHalfOpenLimit
	}
}
