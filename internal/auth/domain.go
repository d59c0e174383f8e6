// Package auth implements registration, login and the caller's own profile.
package auth

import (
	"github.com/srecha/srecha-invoice/internal/users"
)

// Activity actions recorded by this package.
const (
	ActionRegister       = "REGISTER"
	ActionLogin          = "LOGIN"
	ActionLogout         = "LOGOUT"
	ActionUpdateProfile  = "UPDATE_PROFILE"
	ActionChangePassword = "CHANGE_PASSWORD"
)

const minPasswordLength = 6

// RegisterInput is the self-service signup payload.
type RegisterInput struct {
	Username string  `json:"username" validate:"required,min=3,max=50,username"`
	Password string  `json:"password" validate:"required,min=6"`
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
}

// LoginInput carries credentials.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordInput replaces the caller's password.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

// Session is an issued bearer token and the account it belongs to.
type Session struct {
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expires_in"`
	User      users.User `json:"user"`
}
