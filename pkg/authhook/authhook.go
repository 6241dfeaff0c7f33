// Package authhook provides the opaque authorization seam the handler calls
// before routing any request. It does not implement authentication itself —
// spec.md treats identity/token issuance as an external collaborator — it
// only carries an already-authenticated Identity through the request
// context and exposes the predicate the handler asks before dispatch.
package authhook

import "context"

// identityContextKey is an unexported, zero-size type so no other package
// can collide with this context key.
type identityContextKey struct{}

// Identity is the caller principal extracted by whatever upstream
// authentication collaborator terminates the client's credentials. meshmcp
// never issues or validates tokens itself; it only forwards this identity
// into Authorizer.Authorize.
type Identity struct {
	Subject string
	Groups  []string
}

// WithIdentity stores identity in ctx. A nil identity leaves ctx unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}

// Authorizer decides whether identity may invoke method with params. The
// predicate is deliberately opaque: meshmcp ships an AllowAll default and
// lets operators plug in whatever policy engine they run (spec.md ยง1 names
// the auth token store and RBAC decision itself as an out-of-scope
// collaborator).
type Authorizer interface {
	Authorize(ctx context.Context, identity *Identity, method string, params []byte) (bool, error)
}

// AllowAll is the default Authorizer: every call is permitted. It exists so
// the handler pipeline always has a non-nil Authorizer to call even when no
// policy engine is configured.
type AllowAll struct{}

// Authorize always returns true.
func (AllowAll) Authorize(context.Context, *Identity, string, []byte) (bool, error) {
	return true, nil
}
