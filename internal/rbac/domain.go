package rbac

import (
	"context"

	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// Account is the subset of a user record needed to authorise a request.
type Account struct {
	ID          uuid.UUID
	Username    string
	Role        shared.Role
	Permissions shared.Permissions
	IsActive    bool
}

// AccountLoader fetches accounts by id; missing users yield shared.ErrNotFound.
type AccountLoader interface {
	LoadAccount(ctx context.Context, id uuid.UUID) (Account, error)
}

// TokenResolver maps a bearer token to a user id.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
}
