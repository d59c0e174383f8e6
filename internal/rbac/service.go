package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/srecha/srecha-invoice/internal/shared"
)

// ErrUnauthenticated covers missing, unknown, expired or disabled credentials.
var ErrUnauthenticated = errors.New("rbac: unauthenticated")

// Service resolves bearer tokens into caller identities.
type Service struct {
	tokens   TokenResolver
	accounts AccountLoader
}

// NewService constructs a Service.
func NewService(tokens TokenResolver, accounts AccountLoader) *Service {
	return &Service{tokens: tokens, accounts: accounts}
}

// Identify returns the identity bound to token. Inactive or deleted users are
// rejected even while their token is still live.
func (s *Service) Identify(ctx context.Context, token string) (shared.Identity, error) {
	if token == "" {
		return shared.Identity{}, ErrUnauthenticated
	}
	userID, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrSessionNotFound) {
			return shared.Identity{}, ErrUnauthenticated
		}
		return shared.Identity{}, fmt.Errorf("resolve token: %w", err)
	}
	account, err := s.accounts.LoadAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Identity{}, ErrUnauthenticated
		}
		return shared.Identity{}, fmt.Errorf("load account: %w", err)
	}
	if !account.IsActive {
		return shared.Identity{}, ErrUnauthenticated
	}
	return shared.Identity{
		UserID:      account.ID,
		Username:    account.Username,
		Role:        account.Role,
		Permissions: account.Permissions,
		Token:       token,
	}, nil
}
