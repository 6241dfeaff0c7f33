package cache

import (
	"strings"

	"github.com/meshmcp/meshmcp/pkg/obsv"
)

// TierName identifies one of the three cache tiers.
type TierName string

// Tier names, in spec.md ยง4.3 order.
const (
	L1 TierName = "l1" // tools/list, tools/call (default fallback for unknown methods)
	L2 TierName = "l2" // resources/list, resources/read
	L3 TierName = "l3" // prompts/list, prompts/get
)

// Config sizes every tier and toggles the cache wholesale.
type Config struct {
	Enabled bool
	L1      TierConfig
	L2      TierConfig
	L3      TierConfig
}

// Cache routes each method to its tier and enforces the non-cacheable
// method list (spec.md ยง4.3: `auth/*`, `admin/*`, `resources/write`,
// `resources/delete`).
type Cache struct {
	enabled bool
	tiers   map[TierName]*Tier
	metrics *obsv.Metrics
}

// New constructs a Cache from cfg. metrics may be nil, in which case
// lookups and stores go unrecorded.
func New(cfg Config, metrics *obsv.Metrics) *Cache {
	return &Cache{
		enabled: cfg.Enabled,
		tiers: map[TierName]*Tier{
			L1: NewTier(cfg.L1),
			L2: NewTier(cfg.L2),
			L3: NewTier(cfg.L3),
		},
		metrics: metrics,
	}
}

// l2Methods and l3Methods are the explicit method sets that route away from
// the L1 default (spec.md ยง4.3: "a method not in these lists falls to L1").
var (
	l2Methods = map[string]bool{"resources/list": true, "resources/read": true}
	l3Methods = map[string]bool{"prompts/list": true, "prompts/get": true}
)

// TierForMethod returns the tier a method's responses are cached in.
func TierForMethod(method string) TierName {
	if l2Methods[method] {
		return L2
	}
	if l3Methods[method] {
		return L3
	}
	return L1
}

// Cacheable reports whether method's responses may be cached at all
// (spec.md ยง4.3 non-cacheable list).
func Cacheable(method string) bool {
	if strings.HasPrefix(method, "auth/") || strings.HasPrefix(method, "admin/") {
		return false
	}
	if method == "resources/write" || method == "resources/delete" {
		return false
	}
	return true
}

// Get looks up key in the tier method routes to. It always misses when the
// cache is disabled or method is non-cacheable.
func (c *Cache) Get(method, key string) ([]byte, bool) {
	if !c.enabled || !Cacheable(method) {
		return nil, false
	}
	tier := TierForMethod(method)
	v, hit := c.tiers[tier].Get(key)
	if c.metrics != nil {
		if hit {
			c.metrics.RecordCacheHit(string(tier))
		} else {
			c.metrics.RecordCacheMiss(string(tier))
		}
	}
	return v, hit
}

// Set stores value under key in the tier method routes to. It is a no-op
// when the cache is disabled or method is non-cacheable.
func (c *Cache) Set(method, key string, value []byte) {
	if !c.enabled || !Cacheable(method) {
		return
	}
	tier := TierForMethod(method)
	t := c.tiers[tier]
	t.Set(key, value)
	if c.metrics != nil {
		c.metrics.SetCacheSize(string(tier), t.Stats().Size)
	}
}

// Invalidate removes key from the tier method routes to.
func (c *Cache) Invalidate(method, key string) {
	if !c.enabled {
		return
	}
	c.tiers[TierForMethod(method)].Invalidate(key)
}

// ClearAll empties every tier.
func (c *Cache) ClearAll() {
	for _, t := range c.tiers {
		t.ClearAll()
	}
}

// Stats reports every tier's stats, keyed by tier name. All zero when the
// cache is disabled.
func (c *Cache) Stats() map[TierName]TierStats {
	out := make(map[TierName]TierStats, len(c.tiers))
	for name, t := range c.tiers {
		if !c.enabled {
			out[name] = TierStats{Capacity: t.capacity}
			continue
		}
		out[name] = t.Stats()
	}
	return out
}
