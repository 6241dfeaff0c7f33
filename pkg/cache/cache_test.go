package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Enabled: true,
		L1:      TierConfig{Capacity: 10, TTL: time.Minute},
		L2:      TierConfig{Capacity: 10, TTL: time.Minute},
		L3:      TierConfig{Capacity: 10, TTL: time.Minute},
	}
}

func TestTierForMethod(t *testing.T) {
	t.Parallel()

	assert.Equal(t, L1, TierForMethod("tools/list"))
	assert.Equal(t, L1, TierForMethod("tools/call"))
	assert.Equal(t, L1, TierForMethod("totally/unknown"))
	assert.Equal(t, L2, TierForMethod("resources/list"))
	assert.Equal(t, L2, TierForMethod("resources/read"))
	assert.Equal(t, L3, TierForMethod("prompts/list"))
	assert.Equal(t, L3, TierForMethod("prompts/get"))
}

func TestCacheable(t *testing.T) {
	t.Parallel()

	assert.False(t, Cacheable("auth/login"))
	assert.False(t, Cacheable("admin/reload"))
	assert.False(t, Cacheable("resources/write"))
	assert.False(t, Cacheable("resources/delete"))
	assert.True(t, Cacheable("tools/call"))
	assert.True(t, Cacheable("resources/read"))
}

func TestCache_SetThenGet(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("tools/call", "key1", []byte("value1"))

	v, ok := c.Get("tools/call", "key1")
	require.True(t, ok)
	assert.Equal(t, []byte("value1"), v)
}

func TestCache_MissForUncachedKey(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	_, ok := c.Get("tools/call", "missing")
	assert.False(t, ok)
}

func TestCache_TiersAreIndependent(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("tools/call", "same-key", []byte("l1-value"))
	c.Set("resources/read", "same-key", []byte("l2-value"))

	v1, _ := c.Get("tools/call", "same-key")
	v2, _ := c.Get("resources/read", "same-key")
	assert.Equal(t, []byte("l1-value"), v1)
	assert.Equal(t, []byte("l2-value"), v2)
}

func TestCache_NonCacheableMethodsAlwaysMiss(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("admin/reload", "key", []byte("should not be stored"))
	_, ok := c.Get("admin/reload", "key")
	assert.False(t, ok)
}

func TestCache_DisabledAlwaysMissesAndSetIsNoOp(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, nil)

	c.Set("tools/call", "key", []byte("value"))
	_, ok := c.Get("tools/call", "key")
	assert.False(t, ok)

	for _, s := range c.Stats() {
		assert.Zero(t, s.Size)
		assert.Zero(t, s.Hits)
		assert.Zero(t, s.Misses)
	}
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("tools/call", "key", []byte("value"))
	c.Invalidate("tools/call", "key")

	_, ok := c.Get("tools/call", "key")
	assert.False(t, ok)
}

func TestCache_ClearAll(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("tools/call", "a", []byte("1"))
	c.Set("resources/read", "b", []byte("2"))
	c.Set("prompts/get", "c", []byte("3"))

	c.ClearAll()

	_, ok1 := c.Get("tools/call", "a")
	_, ok2 := c.Get("resources/read", "b")
	_, ok3 := c.Get("prompts/get", "c")
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.False(t, ok3)
}

func TestCache_StatsReflectsHitsAndMisses(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil)
	c.Set("tools/call", "k", []byte("v"))
	_, _ = c.Get("tools/call", "k")
	_, _ = c.Get("tools/call", "missing")

	stats := c.Stats()[L1]
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestTier_CapacityEviction(t *testing.T) {
	t.Parallel()

	tier := NewTier(TierConfig{Capacity: 2, TTL: time.Minute})
	tier.Set("a", []byte("1"))
	tier.Set("b", []byte("2"))
	tier.Set("c", []byte("3"))

	_, okA := tier.Get("a")
	_, okC := tier.Get("c")
	assert.False(t, okA, "oldest entry should have been evicted at capacity")
	assert.True(t, okC)
}

func TestTier_TTLExpiry(t *testing.T) {
	t.Parallel()

	tier := NewTier(TierConfig{Capacity: 10, TTL: 10 * time.Millisecond})
	tier.Set("a", []byte("1"))
	time.Sleep(30 * time.Millisecond)

	_, ok := tier.Get("a")
	assert.False(t, ok)
}
