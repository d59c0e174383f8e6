package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID      uuid.UUID
	Username    string
	Role        Role
	Permissions Permissions
	Token       string
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Can reports whether the caller may use the feature guarded by perm.
// Admins pass every check.
func (i Identity) Can(perm Permission) bool {
	return i.IsAdmin() || i.Permissions.Has(perm)
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// ActorID returns the caller's user id, or nil for unauthenticated contexts.
func ActorID(ctx context.Context) *uuid.UUID {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID == uuid.Nil {
		return nil
	}
	uid := id.UserID
	return &uid
}
