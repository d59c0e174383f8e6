// Package users manages user accounts, their roles and feature permissions.
package users

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	EntityUsers = "users"

	ActionCreate            = "CREATE_USER"
	ActionUpdatePermissions = "UPDATE_USER_PERMISSIONS"
	ActionDelete            = "DELETE_USER"
	ActionActivate          = "ACTIVATE_USER"
	ActionDeactivate        = "DEACTIVATE_USER"
)

var (
	ErrNotFound  = fmt.Errorf("%w: user not found", shared.ErrNotFound)
	ErrDuplicate = fmt.Errorf("%w: username or email already exists", shared.ErrConflict)
)

// User is an account as exposed over the API. PasswordHash never leaves
// the server.
type User struct {
	ID           uuid.UUID          `json:"id"`
	Username     string             `json:"username"`
	Email        *string            `json:"email"`
	FullName     *string            `json:"full_name"`
	Role         shared.Role        `json:"role"`
	Permissions  shared.Permissions `json:"permissions"`
	IsActive     bool               `json:"is_active"`
	LastLogin    *time.Time         `json:"last_login,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	PasswordHash string             `json:"-"`
}

// NewUser is the data stored for a new account.
type NewUser struct {
	Username     string
	PasswordHash string
	Email        *string
	FullName     *string
	Role         shared.Role
	Permissions  shared.Permissions
}

// CreateInput is the admin payload for a new account.
type CreateInput struct {
	Username    string              `json:"username" validate:"required,min=3,max=50,username"`
	Password    string              `json:"password" validate:"required,min=6"`
	Email       *string             `json:"email" validate:"omitempty,email"`
	FullName    *string             `json:"full_name" validate:"omitempty,max=255"`
	Role        shared.Role         `json:"role" validate:"omitempty,oneof=admin user"`
	Permissions *shared.Permissions `json:"permissions"`
}

// ProfileInput updates the caller's own profile.
type ProfileInput struct {
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
	Email    *string `json:"email" validate:"omitempty,email"`
}

// normalizeEmail trims the address and maps blank to nil.
func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	v := strings.TrimSpace(*email)
	if v == "" {
		return nil
	}
	return &v
}
