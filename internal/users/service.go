package users

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// SessionRevoker ends every session of a user. *shared.SessionStore implements it.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID) error
}

// Service handles user administration.
type Service struct {
	repo       Repository
	sessions   SessionRevoker
	audit      Recorder
	bcryptCost int
	logger     *slog.Logger
}

// NewService builds Service instance. A non-positive bcryptCost selects bcrypt.DefaultCost.
func NewService(repo Repository, sessions SessionRevoker, audit Recorder, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sessions: sessions, audit: audit, bcryptCost: bcryptCost, logger: logger}
}

// HashPassword hashes password with the configured bcrypt cost.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    shared.ActorID(ctx),
		Action:     action,
		EntityType: EntityUsers,
		EntityID:   id.String(),
		Details:    details,
	})
}

func (s *Service) revoke(ctx context.Context, id uuid.UUID) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeUser(ctx, id); err != nil {
		s.logger.Warn("revoke user sessions", slog.String("user_id", id.String()), slog.Any("error", err))
	}
}

// LoadAccount implements rbac.AccountLoader.
func (s *Service) LoadAccount(ctx context.Context, id uuid.UUID) (rbac.Account, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return rbac.Account{}, err
	}
	return rbac.Account{
		ID:          u.ID,
		Username:    u.Username,
		Role:        u.Role,
		Permissions: u.Permissions,
		IsActive:    u.IsActive,
	}, nil
}

// List returns all accounts.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Create registers an account on behalf of an admin. Role defaults to user
// and permissions to none.
func (s *Service) Create(ctx context.Context, in CreateInput) (User, error) {
	role := in.Role
	if role == "" {
		role = shared.RoleUser
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: role must be admin or user", shared.ErrValidation)
	}
	nu, err := s.prepare(in.Username, in.Password, in.Email, in.FullName)
	if err != nil {
		return User{}, err
	}
	nu.Role = role
	if in.Permissions != nil {
		nu.Permissions = *in.Permissions
	}
	u, err := s.repo.Insert(ctx, nu)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, ActionCreate, u.ID, map[string]any{
		"username":    u.Username,
		"role":        u.Role,
		"permissions": u.Permissions,
	})
	return u, nil
}

// prepare validates credentials and hashes the password for a new account.
func (s *Service) prepare(username, password string, email, fullName *string) (NewUser, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < 3 || n > 50 {
		return NewUser{}, fmt.Errorf("%w: username must be 3 to 50 characters", shared.ErrValidation)
	}
	if len(password) < 6 {
		return NewUser{}, fmt.Errorf("%w: password must be at least 6 characters", shared.ErrValidation)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return NewUser{}, err
	}
	return NewUser{
		Username:     username,
		PasswordHash: hash,
		Email:        normalizeEmail(email),
		FullName:     fullName,
		Role:         shared.RoleUser,
	}, nil
}

// Register creates a self-service account with the user role and no permissions.
func (s *Service) Register(ctx context.Context, username, password string, email, fullName *string) (User, error) {
	nu, err := s.prepare(username, password, email, fullName)
	if err != nil {
		return User{}, err
	}
	return s.repo.Insert(ctx, nu)
}

// UpdatePermissions replaces a user's permission flags.
func (s *Service) UpdatePermissions(ctx context.Context, id uuid.UUID, perms shared.Permissions) (User, error) {
	u, err := s.repo.UpdatePermissions(ctx, id, perms)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, ActionUpdatePermissions, id, map[string]any{
		"username":        u.Username,
		"new_permissions": perms,
	})
	return u, nil
}

// Delete removes an account other than the caller's and ends its sessions.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if actor := shared.ActorID(ctx); actor != nil && *actor == id {
		return fmt.Errorf("%w: cannot delete your own account", shared.ErrValidation)
	}
	u, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.revoke(ctx, id)
	s.record(ctx, ActionDelete, id, map[string]any{"username": u.Username})
	return nil
}

// ToggleStatus activates or deactivates an account other than the caller's.
// Deactivation ends the account's sessions.
func (s *Service) ToggleStatus(ctx context.Context, id uuid.UUID) (User, error) {
	if actor := shared.ActorID(ctx); actor != nil && *actor == id {
		return User{}, fmt.Errorf("%w: cannot deactivate your own account", shared.ErrValidation)
	}
	u, err := s.repo.ToggleActive(ctx, id)
	if err != nil {
		return User{}, err
	}
	action := ActionActivate
	if !u.IsActive {
		action = ActionDeactivate
		s.revoke(ctx, id)
	}
	s.record(ctx, action, id, map[string]any{"username": u.Username, "is_active": u.IsActive})
	return u, nil
}
