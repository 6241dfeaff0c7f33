package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshmcp/meshmcp/pkg/registry"
)

func TestToDescriptors_TranslatesHTTPBackend(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Backends: []BackendConfig{{
			ID: "search", Transport: "http", Weight: 2, Tools: []string{"search"},
			HTTP:           &HTTPConfig{URL: "http://localhost:9001", Headers: map[string]string{"X-Key": "v"}},
			HealthCheck:    &HealthCheckConfig{HealthyThreshold: 2, UnhealthyThreshold: 3},
			CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 5, Timeout: Duration(30 * time.Second)},
		}},
	}
	cfg.EnsureDefaults()

	descs := cfg.ToDescriptors()
	require.Len(t, descs, 1)
	d := descs[0]
	assert.Equal(t, "search", d.ID)
	assert.True(t, d.Enabled)
	assert.Equal(t, registry.TransportHTTP, d.Transport)
	require.NotNil(t, d.HTTP)
	assert.Equal(t, "http://localhost:9001", d.HTTP.URL)
	assert.Equal(t, 2, d.Weight)
	assert.Equal(t, 30*time.Second, d.CircuitBreaker.Timeout)
}

func TestToDescriptors_DisabledBackendTranslatesDisabled(t *testing.T) {
	t.Parallel()

	disabled := false
	cfg := &Config{Backends: []BackendConfig{{
		ID: "a", Transport: "http", Enabled: &disabled, HTTP: &HTTPConfig{URL: "http://x"},
	}}}
	cfg.EnsureDefaults()

	descs := cfg.ToDescriptors()
	assert.False(t, descs[0].Enabled)
}

func TestToCacheConfig_TranslatesTiers(t *testing.T) {
	t.Parallel()

	cfg := &Config{Cache: CacheConfig{
		Enabled: true,
		L1:      CacheTierConfig{Capacity: 50, TTL: Duration(5 * time.Second)},
	}}
	cacheCfg := cfg.ToCacheConfig()
	assert.True(t, cacheCfg.Enabled)
	assert.Equal(t, 50, cacheCfg.L1.Capacity)
	assert.Equal(t, 5*time.Second, cacheCfg.L1.TTL)
}

func TestToBatchConfig_UsesDefaultBatchableMethods(t *testing.T) {
	t.Parallel()

	cfg := &Config{Batch: BatchConfig{Enabled: true, Window: Duration(20 * time.Millisecond), MaxBatchSize: 5}}
	batchCfg := cfg.ToBatchConfig()
	assert.True(t, batchCfg.Enabled)
	assert.True(t, batchCfg.BatchableMethods["tools/list"])
}
