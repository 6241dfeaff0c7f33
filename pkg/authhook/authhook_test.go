package authhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithIdentity_RoundTrips(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), &Identity{Subject: "alice"})
	got, ok := IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", got.Subject)
}

func TestWithIdentity_NilLeavesContextUnchanged(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), nil)
	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)
}

func TestIdentityFromContext_AbsentReturnsFalse(t *testing.T) {
	t.Parallel()

	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func TestAllowAll_AlwaysAuthorizes(t *testing.T) {
	t.Parallel()

	var a AllowAll
	ok, err := a.Authorize(context.Background(), nil, "tools/call", nil)
	assert.NoError(t, err)
	assert.True(t, ok)
}
