package registry

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// DefaultVirtualNodes is the number of ring points placed per backend,
// matching the 100-200 range used for smooth load distribution in the
// examples this proxy is grounded on.
const DefaultVirtualNodes = 150

// ringPoint is one position on the hash ring.
type ringPoint struct {
	hash    uint64
	backend string
}

// Ring is an immutable consistent-hash ring over a fixed set of backend IDs.
// Lookups are a single binary search (spec.md ยง9 Open Question: ring lookup
// is a single modular-arithmetic scan, not two passes).
type Ring struct {
	points []ringPoint
}

// NewRing builds a ring with vnodes virtual nodes per backend id. Backend
// order does not matter; the ring is sorted internally.
func NewRing(backendIDs []string, vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	points := make([]ringPoint, 0, len(backendIDs)*vnodes)
	for _, id := range backendIDs {
		for v := 0; v < vnodes; v++ {
			h := xxhash.Sum64String(fmt.Sprintf("%s#%d", id, v))
			points = append(points, ringPoint{hash: h, backend: id})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })
	return &Ring{points: points}
}

// Lookup returns the first backend at or after key's hash position, walking
// forward (wrapping around) past any backend not present in admittable.
// admittable nil means every backend on the ring is a candidate. It reports
// false if the ring is empty or no backend on it is admittable.
func (r *Ring) Lookup(key string, admittable map[string]bool) (string, bool) {
	if len(r.points) == 0 {
		return "", false
	}
	h := xxhash.Sum64String(key)
	start := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })

	for i := 0; i < len(r.points); i++ {
		p := r.points[(start+i)%len(r.points)]
		if admittable == nil || admittable[p.backend] {
			return p.backend, true
		}
	}
	return "", false
}

// BackendIDs returns the distinct backend ids present on the ring, in ring
// order of first appearance (stable for test assertions).
func (r *Ring) BackendIDs() []string {
	seen := make(map[string]bool, len(r.points))
	ids := make([]string, 0)
	for _, p := range r.points {
		if !seen[p.backend] {
			seen[p.backend] = true
			ids = append(ids, p.backend)
		}
	}
	return ids
}
