package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/shared"
	"github.com/srecha/srecha-invoice/internal/users"
)

// Accounts reads and updates user records.
type Accounts interface {
	Get(ctx context.Context, id uuid.UUID) (users.User, error)
	GetByUsername(ctx context.Context, username string) (users.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fullName, email *string) (users.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLogin(ctx context.Context, id uuid.UUID) error
}

// Registrar creates accounts and hashes passwords. *users.Service implements it.
type Registrar interface {
	Register(ctx context.Context, username, password string, email, fullName *string) (users.User, error)
	HashPassword(password string) (string, error)
}

// Sessions issues and revokes bearer tokens. *shared.SessionStore implements it.
type Sessions interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	Revoke(ctx context.Context, token string) error
	TTL() time.Duration
}

// Recorder appends activity log entries.
type Recorder interface {
	Record(ctx context.Context, ev activity.Event)
}

// Service wraps authentication business rules.
type Service struct {
	accounts  Accounts
	registrar Registrar
	sessions  Sessions
	audit     Recorder
	logger    *slog.Logger
}

// NewService constructs a new Service.
func NewService(accounts Accounts, registrar Registrar, sessions Sessions, audit Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{accounts: accounts, registrar: registrar, sessions: sessions, audit: audit, logger: logger}
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, activity.Event{
		ActorID:    &actor,
		Action:     action,
		EntityType: users.EntityUsers,
		EntityID:   actor.String(),
	})
}

func (s *Service) issue(ctx context.Context, u users.User) (Session, error) {
	token, err := s.sessions.Issue(ctx, u.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, ExpiresIn: int64(s.sessions.TTL().Seconds()), User: u}, nil
}

// Register creates a regular account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	u, err := s.registrar.Register(ctx, in.Username, in.Password, in.Email, in.FullName)
	if err != nil {
		return Session{}, err
	}
	sess, err := s.issue(ctx, u)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, u.ID, ActionRegister)
	return sess, nil
}

// Login verifies credentials and issues a token. Unknown users, wrong
// passwords and disabled accounts all yield shared.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	u, err := s.accounts.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Session{}, shared.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !u.IsActive {
		return Session{}, fmt.Errorf("%w: account is disabled", shared.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	sess, err := s.issue(ctx, u)
	if err != nil {
		return Session{}, err
	}
	if err := s.accounts.TouchLogin(ctx, u.ID); err != nil {
		s.logger.Warn("record last login", slog.String("user_id", u.ID.String()), slog.Any("error", err))
	}
	s.record(ctx, u.ID, ActionLogin)
	return sess, nil
}

// Profile returns the caller's account.
func (s *Service) Profile(ctx context.Context, caller shared.Identity) (users.User, error) {
	return s.accounts.Get(ctx, caller.UserID)
}

// UpdateProfile changes the caller's full name and email. Omitted fields are kept.
func (s *Service) UpdateProfile(ctx context.Context, caller shared.Identity, in users.ProfileInput) (users.User, error) {
	u, err := s.accounts.UpdateProfile(ctx, caller.UserID, in.FullName, in.Email)
	if err != nil {
		return users.User{}, err
	}
	s.record(ctx, caller.UserID, ActionUpdateProfile)
	return u, nil
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, caller shared.Identity, in ChangePasswordInput) error {
	if len(in.NewPassword) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters long", shared.ErrValidation, minPasswordLength)
	}
	u, err := s.accounts.Get(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return fmt.Errorf("%w: current password is incorrect", shared.ErrValidation)
	}
	hash, err := s.registrar.HashPassword(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	s.record(ctx, u.ID, ActionChangePassword)
	return nil
}

// Logout revokes the caller's token.
func (s *Service) Logout(ctx context.Context, caller shared.Identity) error {
	if err := s.sessions.Revoke(ctx, caller.Token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.record(ctx, caller.UserID, ActionLogout)
	return nil
}
