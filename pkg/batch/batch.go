// Package batch implements the request-batching aggregator described in
// spec.md ยง4.4: concurrent submissions for the same (backend, method) pair
// share a single backend call, racing a window timer against a max-size
// trigger to decide when to flush.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshmcp/meshmcp/pkg/obsv"
)

// Submitter issues the single representative request to a backend and
// returns the outcome shared by every waiter in the batch.
type Submitter func(ctx context.Context, request []byte) ([]byte, error)

// Config tunes the aggregator.
type Config struct {
	Enabled          bool
	Window           time.Duration
	MaxBatchSize     int
	BatchableMethods map[string]bool
}

// DefaultBatchableMethods is the spec's default batchable set: the three
// list methods, which carry no per-waiter distinguishing params.
func DefaultBatchableMethods() map[string]bool {
	return map[string]bool{
		"tools/list":     true,
		"resources/list": true,
		"prompts/list":   true,
	}
}

type outcome struct {
	result []byte
	err    error
}

// pendingBatch is one in-flight coalesced call. Exactly one of the deadline
// timer or the size-limit check flushes it; flushed guards that race.
type pendingBatch struct {
	representative []byte
	waiters        []chan outcome
	timer          *time.Timer
	flushed        atomic.Bool
	opened         time.Time
}

// Aggregator coalesces concurrent submissions per (backend, method) pair.
type Aggregator struct {
	cfg     Config
	metrics *obsv.Metrics

	mu      sync.Mutex
	pending map[string]*pendingBatch
}

// New constructs an Aggregator from cfg. metrics may be nil, in which case
// flushed batches go unrecorded.
func New(cfg Config, metrics *obsv.Metrics) *Aggregator {
	if cfg.BatchableMethods == nil {
		cfg.BatchableMethods = DefaultBatchableMethods()
	}
	return &Aggregator{cfg: cfg, metrics: metrics, pending: make(map[string]*pendingBatch)}
}

func key(backendID, method string) string { return backendID + "\x00" + method }

// Submit coalesces request into the pending batch for (backendID, method),
// or bypasses coalescing entirely when the aggregator is disabled or method
// is not in the batchable set (spec.md ยง4.4). It blocks until the batch
// flushes or ctx is cancelled; per spec.md ยง4.4(b), cancellation only stops
// this call from waiting — the backend submission still runs to completion
// and its result is shared with the other waiters.
func (a *Aggregator) Submit(ctx context.Context, backendID, method string, request []byte, submit Submitter) ([]byte, error) {
	if !a.cfg.Enabled || !a.cfg.BatchableMethods[method] {
		return submit(ctx, request)
	}

	k := key(backendID, method)

	a.mu.Lock()
	b, exists := a.pending[k]
	if !exists {
		b = &pendingBatch{representative: request, opened: time.Now()}
		a.pending[k] = b
		b.timer = time.AfterFunc(a.cfg.Window, func() { a.flush(k, b, submit) })
	}
	ch := make(chan outcome, 1)
	b.waiters = append(b.waiters, ch)
	sizeHit := len(b.waiters) >= a.cfg.MaxBatchSize
	a.mu.Unlock()

	if sizeHit {
		b.timer.Stop()
		go a.flush(k, b, submit)
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flush issues the single representative backend call and delivers its
// outcome to every waiter. It is a no-op if the other side of the
// deadline/size-limit race already flushed this batch (spec.md ยง4.4(c)).
func (a *Aggregator) flush(k string, b *pendingBatch, submit Submitter) {
	if !b.flushed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	if a.pending[k] == b {
		delete(a.pending, k)
	}
	waiters := b.waiters
	representative := b.representative
	a.mu.Unlock()

	// The representative call is independent of any single waiter's
	// context: it must run to completion even if the waiter that happened
	// to arm the batch has since been cancelled.
	result, err := submit(context.Background(), representative)

	if a.metrics != nil {
		outcomeLabel := "ok"
		if err != nil {
			outcomeLabel = "error"
		}
		a.metrics.RecordBatch(outcomeLabel, len(waiters), time.Since(b.opened))
	}

	for _, w := range waiters {
		w <- outcome{result: result, err: err}
		close(w)
	}
}
