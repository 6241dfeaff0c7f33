package config

import (
	"time"

	"github.com/meshmcp/meshmcp/pkg/batch"
	"github.com/meshmcp/meshmcp/pkg/cache"
	"github.com/meshmcp/meshmcp/pkg/handler"
	"github.com/meshmcp/meshmcp/pkg/registry"
	"github.com/meshmcp/meshmcp/pkg/router"
)

// ToDescriptors translates every configured backend into the registry's
// wire-format-agnostic Descriptor.
func (c *Config) ToDescriptors() []*registry.Descriptor {
	out := make([]*registry.Descriptor, 0, len(c.Backends))
	for _, b := range c.Backends {
		out = append(out, b.toDescriptor())
	}
	return out
}

func (b *BackendConfig) toDescriptor() *registry.Descriptor {
	enabled := true
	if b.Enabled != nil {
		enabled = *b.Enabled
	}

	d := &registry.Descriptor{
		ID:        b.ID,
		Name:      b.Name,
		Enabled:   enabled,
		Transport: registry.TransportKind(b.Transport),
		Weight:    b.Weight,
		Tools:     b.Tools,
	}
	if b.Stdio != nil {
		d.Stdio = &registry.StdioSpec{
			Command:       b.Stdio.Command,
			Args:          b.Stdio.Args,
			Env:           b.Stdio.Env,
			Cwd:           b.Stdio.Cwd,
			Sandbox:       b.Stdio.Sandbox,
			MaxCPUPercent: b.Stdio.MaxCPUPercent,
			MaxMemoryMB:   b.Stdio.MaxMemoryMB,
		}
	}
	if b.HTTP != nil {
		d.HTTP = &registry.HTTPSpec{URL: b.HTTP.URL, Headers: b.HTTP.Headers}
	}
	if b.SSE != nil {
		d.SSE = &registry.SSESpec{URL: b.SSE.URL, Headers: b.SSE.Headers}
	}
	if b.Streamable != nil {
		d.Streamable = &registry.StreamableSpec{
			URL:     b.Streamable.URL,
			Headers: b.Streamable.Headers,
			Timeout: time.Duration(b.Streamable.Timeout),
		}
	}
	if b.HealthCheck != nil {
		d.HealthCheck = registry.HealthCheckParams{
			IntervalSeconds:    b.HealthCheck.IntervalSeconds,
			TimeoutSeconds:     b.HealthCheck.TimeoutSeconds,
			HealthyThreshold:   b.HealthCheck.HealthyThreshold,
			UnhealthyThreshold: b.HealthCheck.UnhealthyThreshold,
			Path:               b.HealthCheck.Path,
		}
	}
	if b.CircuitBreaker != nil {
		d.CircuitBreaker = registry.CircuitBreakerParams{
			FailureThreshold: b.CircuitBreaker.FailureThreshold,
			SuccessThreshold: b.CircuitBreaker.SuccessThreshold,
			Timeout:          time.Duration(b.CircuitBreaker.Timeout),
			HalfOpenLimit:    b.CircuitBreaker.HalfOpenLimit,
		}
	}
	if b.Routing != nil {
		d.Routing = registry.RoutingHints{HashKeyHeader: b.Routing.HashKeyHeader}
	}
	return d
}

// ToRouterConfig translates the router section.
func (c *Config) ToRouterConfig() router.Config {
	return router.Config{
		Algorithm:     router.Algorithm(c.Router.Algorithm),
		StickyEnabled: c.Router.StickyEnabled,
	}
}

// ToCacheConfig translates the cache section.
func (c *Config) ToCacheConfig() cache.Config {
	return cache.Config{
		Enabled: c.Cache.Enabled,
		L1:      toTierConfig(c.Cache.L1),
		L2:      toTierConfig(c.Cache.L2),
		L3:      toTierConfig(c.Cache.L3),
	}
}

func toTierConfig(t CacheTierConfig) cache.TierConfig {
	return cache.TierConfig{Capacity: t.Capacity, TTL: time.Duration(t.TTL)}
}

// ToBatchConfig translates the batch section.
func (c *Config) ToBatchConfig() batch.Config {
	return batch.Config{
		Enabled:          c.Batch.Enabled,
		Window:           time.Duration(c.Batch.Window),
		MaxBatchSize:     c.Batch.MaxBatchSize,
		BatchableMethods: batch.DefaultBatchableMethods(),
	}
}

// ToHandlerConfig translates the retry section.
func (c *Config) ToHandlerConfig() handler.Config {
	return handler.Config{
		MaxRetries:     c.Retry.MaxRetries,
		RetryUnit:      time.Duration(c.Retry.RetryUnit),
		BackendTimeout: time.Duration(c.Retry.BackendTimeout),
	}
}
