// Package cache implements the three-tier TTL-and-capacity-bounded response
// cache described in spec.md ยง4.3. Each tier is independent; which tier a
// request lands in is decided by its JSON-RPC method name.
package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TierConfig sizes one cache tier.
type TierConfig struct {
	Capacity int
	TTL      time.Duration
}

// TierStats reports a tier's current occupancy and hit/miss counters for
// the admin/metrics surface.
type TierStats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// Tier is one TTL+capacity cache, approximately-LRU evicted by
// golang-lru/v2's expirable.LRU (it purges both on capacity pressure and on
// TTL expiry). Reads and writes go through the LRU's single mutex, so a Get
// waits while a Set or an eviction holds it.
type Tier struct {
	lru      *lru.LRU[string, []byte]
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewTier constructs a Tier. A non-positive capacity is treated as
// effectively unbounded by golang-lru (size 0 disables eviction by count,
// leaving only TTL eviction), which is not what any configured tier wants,
// so callers must supply a positive capacity.
func NewTier(cfg TierConfig) *Tier {
	return &Tier{lru: lru.NewLRU[string, []byte](cfg.Capacity, nil, cfg.TTL), capacity: cfg.Capacity}
}

// Get returns the cached value for key, if present and unexpired.
func (t *Tier) Get(key string) ([]byte, bool) {
	v, ok := t.lru.Get(key)
	if ok {
		t.hits.Add(1)
	} else {
		t.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key, evicting the least-recently-used entry if the
// tier is at capacity.
func (t *Tier) Set(key string, value []byte) {
	t.lru.Add(key, value)
}

// Invalidate removes key, if present.
func (t *Tier) Invalidate(key string) {
	t.lru.Remove(key)
}

// ClearAll empties the tier.
func (t *Tier) ClearAll() {
	t.lru.Purge()
}

// Stats reports the tier's current size and hit/miss counters.
func (t *Tier) Stats() TierStats {
	return TierStats{
		Size:     t.lru.Len(),
		Capacity: t.capacity,
		Hits:     t.hits.Load(),
		Misses:   t.misses.Load(),
	}
}
