package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingSubmitter(calls *atomic.Int64) Submitter {
	return func(_ context.Context, req []byte) ([]byte, error) {
		calls.Add(1)
		return req, nil
	}
}

func TestSubmit_BypassesWhenDisabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: false, Window: time.Hour, MaxBatchSize: 10}, nil)

	result, err := a.Submit(context.Background(), "b1", "tools/list", []byte("req"), countingSubmitter(&calls))
	require.NoError(t, err)
	assert.Equal(t, []byte("req"), result)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSubmit_BypassesNonBatchableMethod(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: time.Hour, MaxBatchSize: 10, BatchableMethods: map[string]bool{"tools/list": true}}, nil)

	_, err := a.Submit(context.Background(), "b1", "tools/call", []byte("req"), countingSubmitter(&calls))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSubmit_CoalescesConcurrentCallsIntoOneBackendCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: 50 * time.Millisecond, MaxBatchSize: 100}, nil)

	const n = 10
	var wg sync.WaitGroup
	results := make([][]byte, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := a.Submit(context.Background(), "b1", "tools/list", []byte("representative"), countingSubmitter(&calls))
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "all concurrent waiters should share a single backend call")
	for _, r := range results {
		assert.Equal(t, []byte("representative"), r)
	}
}

func TestSubmit_FlushesAtMaxBatchSizeBeforeWindow(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: time.Hour, MaxBatchSize: 2}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	start := time.Now()
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := a.Submit(context.Background(), "b1", "tools/list", []byte("req"), countingSubmitter(&calls))
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 500*time.Millisecond, "max-size flush should not wait for the hour-long window")
	assert.EqualValues(t, 1, calls.Load())
}

func TestSubmit_MaxBatchSizeOneActsUnbatched(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: time.Hour, MaxBatchSize: 1}, nil)

	_, err := a.Submit(context.Background(), "b1", "tools/list", []byte("req1"), countingSubmitter(&calls))
	require.NoError(t, err)
	_, err = a.Submit(context.Background(), "b1", "tools/list", []byte("req2"), countingSubmitter(&calls))
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load())
}

func TestSubmit_DistinctBackendsDoNotShareABatch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: 20 * time.Millisecond, MaxBatchSize: 100}, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = a.Submit(context.Background(), "b1", "tools/list", []byte("req"), countingSubmitter(&calls))
	}()
	go func() {
		defer wg.Done()
		_, _ = a.Submit(context.Background(), "b2", "tools/list", []byte("req"), countingSubmitter(&calls))
	}()
	wg.Wait()

	assert.EqualValues(t, 2, calls.Load())
}

func TestSubmit_ErrorOutcomeSharedByAllWaiters(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend unreachable")
	submitter := func(_ context.Context, _ []byte) ([]byte, error) { return nil, boom }
	a := New(Config{Enabled: true, Window: 30 * time.Millisecond, MaxBatchSize: 100}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := a.Submit(context.Background(), "b1", "tools/list", []byte("req"), submitter)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestSubmit_CancelledWaiterDoesNotAbortBackendCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	started := make(chan struct{})
	submitter := func(_ context.Context, req []byte) ([]byte, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		calls.Add(1)
		return req, nil
	}
	a := New(Config{Enabled: true, Window: time.Millisecond, MaxBatchSize: 100}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := a.Submit(ctx, "b1", "tools/list", []byte("req"), submitter)
	assert.ErrorIs(t, err, context.Canceled)

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "the representative backend call must still complete after the waiter cancels")
}

func TestSubmit_BatchDestroyedAfterFlush(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	a := New(Config{Enabled: true, Window: 10 * time.Millisecond, MaxBatchSize: 100}, nil)

	_, err := a.Submit(context.Background(), "b1", "tools/list", []byte("first"), countingSubmitter(&calls))
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), "b1", "tools/list", []byte("second"), countingSubmitter(&calls))
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load(), "a new batch must be created after the previous one flushed")
}
