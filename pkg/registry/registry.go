package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/meshmcp/meshmcp/pkg/logger"
)

// GracePeriod is how long a superseded snapshot is kept reachable after a
// swap before its release hook fires, giving in-flight requests routed
// against it time to finish (spec.md ยง4.5).
const GracePeriod = 30 * time.Second

// Prechecker validates that a backend is reachable before it is admitted
// into a new snapshot. The registry package only depends on this interface;
// pkg/transport supplies the concrete implementation, avoiding an import
// cycle between the two.
type Prechecker interface {
	Precheck(ctx context.Context, d *Descriptor) error
}

// Registry holds the current backend Snapshot and hot-swaps it atomically.
// The zero value is not usable; construct with New.
type Registry struct {
	current atomic.Pointer[Snapshot]
	vnodes  int
	nextGen atomic.Uint64

	onRelease func(*Snapshot)
}

// New constructs a Registry seeded with descriptors at generation 1. vnodes
// is the number of ring virtual nodes per backend; zero selects
// DefaultVirtualNodes.
func New(descriptors []*Descriptor, vnodes int) *Registry {
	r := &Registry{vnodes: vnodes}
	r.nextGen.Store(1)
	snap := newSnapshot(1, enabledOnly(descriptors), vnodes)
	r.current.Store(snap)
	return r
}

// OnRelease registers a callback invoked once, after GracePeriod, with each
// snapshot a Swap supersedes. Typically used to close transports for
// backends no longer present in the new snapshot.
func (r *Registry) OnRelease(fn func(*Snapshot)) { r.onRelease = fn }

// Current returns the live snapshot. Callers should take one reference per
// request and keep using it for that request's lifetime rather than calling
// Current repeatedly, so a single request observes one generation.
func (r *Registry) Current() *Snapshot { return r.current.Load() }

// Swap validates descriptors via precheck, then atomically replaces the
// current snapshot. Per spec.md ยง4.5, the swap is rejected if more than
// half of the candidate backends fail their connectivity precheck; backends
// that individually fail are logged and still admitted into the new snapshot
// rather than blocking the swap outright, leaving their health state to the
// health checker.
func (r *Registry) Swap(ctx context.Context, descriptors []*Descriptor, precheck Prechecker) error {
	candidates := enabledOnly(descriptors)
	if len(candidates) == 0 {
		return fmt.Errorf("registry: swap rejected: no enabled backends in new configuration")
	}

	var failed int
	admitted := make([]*Descriptor, 0, len(candidates))
	for _, d := range candidates {
		if precheck == nil {
			admitted = append(admitted, d)
			continue
		}
		if err := precheck.Precheck(ctx, d); err != nil {
			failed++
			logger.Warnw("backend failed connectivity precheck, admitting as unhealthy",
				"backend", d.ID, "error", err)
		}
		admitted = append(admitted, d)
	}

	if failed*2 > len(candidates) {
		return fmt.Errorf("registry: swap rejected: %d/%d backends failed connectivity precheck", failed, len(candidates))
	}

	gen := r.nextGen.Add(1)
	next := newSnapshot(gen, admitted, r.vnodes)
	prev := r.current.Swap(next)

	if prev != nil && r.onRelease != nil {
		time.AfterFunc(GracePeriod, func() { r.onRelease(prev) })
	}
	return nil
}

func enabledOnly(descriptors []*Descriptor) []*Descriptor {
	out := make([]*Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
