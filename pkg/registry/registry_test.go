package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(id string, tools ...string) *Descriptor {
	return &Descriptor{
		ID:        id,
		Name:      id,
		Enabled:   true,
		Transport: TransportHTTP,
		HTTP:      &HTTPSpec{URL: "http://" + id},
		Weight:    1,
		Tools:     tools,
	}
}

func TestNew_SkipsDisabledBackends(t *testing.T) {
	t.Parallel()

	d1 := descriptor("a", "search")
	d2 := descriptor("b", "search")
	d2.Enabled = false

	r := New([]*Descriptor{d1, d2}, 10)
	snap := r.Current()

	assert.NotNil(t, snap.Get("a"))
	assert.Nil(t, snap.Get("b"))
	assert.EqualValues(t, 1, snap.Generation())
}

func TestSnapshot_CandidatesForTool(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a", "search"), descriptor("b", "search", "fetch")}, 10)
	snap := r.Current()

	assert.ElementsMatch(t, []string{"a", "b"}, snap.CandidatesForTool("search"))
	assert.ElementsMatch(t, []string{"b"}, snap.CandidatesForTool("fetch"))
	assert.Nil(t, snap.CandidatesForTool("missing"))
}

type fakePrecheck struct {
	fail map[string]bool
}

func (f fakePrecheck) Precheck(_ context.Context, d *Descriptor) error {
	if f.fail[d.ID] {
		return errors.New("connection refused")
	}
	return nil
}

func TestSwap_IncrementsGeneration(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)
	require.NoError(t, r.Swap(context.Background(), []*Descriptor{descriptor("a"), descriptor("b")}, nil))

	snap := r.Current()
	assert.EqualValues(t, 2, snap.Generation())
	assert.NotNil(t, snap.Get("b"))
}

func TestSwap_RejectsWhenNoEnabledBackends(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)
	d := descriptor("b")
	d.Enabled = false

	err := r.Swap(context.Background(), []*Descriptor{d}, nil)
	require.Error(t, err)
	// The prior snapshot must remain live.
	assert.EqualValues(t, 1, r.Current().Generation())
}

func TestSwap_RejectsWhenMajorityFailPrecheck(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)
	precheck := fakePrecheck{fail: map[string]bool{"b": true, "c": true}}

	err := r.Swap(context.Background(), []*Descriptor{descriptor("a"), descriptor("b"), descriptor("c")}, precheck)
	require.Error(t, err)
	assert.EqualValues(t, 1, r.Current().Generation())
}

func TestSwap_AdmitsMinorityFailuresAsUnhealthy(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)
	precheck := fakePrecheck{fail: map[string]bool{"c": true}}

	err := r.Swap(context.Background(), []*Descriptor{descriptor("a"), descriptor("b"), descriptor("c")}, precheck)
	require.NoError(t, err)

	snap := r.Current()
	assert.NotNil(t, snap.Get("c"), "backend failing precheck is still admitted, to be marked unhealthy by the health checker")
}

func TestSwap_ReaderHoldingOldSnapshotIsUnaffected(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)
	held := r.Current()

	require.NoError(t, r.Swap(context.Background(), []*Descriptor{descriptor("a"), descriptor("b")}, nil))

	assert.EqualValues(t, 1, held.Generation())
	assert.Nil(t, held.Get("b"))
	assert.EqualValues(t, 2, r.Current().Generation())
}

func TestSwap_SchedulesReleaseOfPreviousSnapshotAfterGracePeriod(t *testing.T) {
	t.Parallel()

	r := New([]*Descriptor{descriptor("a")}, 10)

	released := make(chan uint64, 1)
	r.OnRelease(func(s *Snapshot) { released <- s.Generation() })

	require.NoError(t, r.Swap(context.Background(), []*Descriptor{descriptor("a"), descriptor("b")}, nil))

	select {
	case <-released:
		t.Fatal("release fired before grace period elapsed")
	case <-time.After(50 * time.Millisecond):
	}
}
