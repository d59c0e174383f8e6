package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/srecha/srecha-invoice/internal/platform/httpx"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
	"github.com/srecha/srecha-invoice/internal/users"
)

const (
	credentialRateLimit  = 20
	credentialRateWindow = time.Minute
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      rbac,
		validator: httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router. Register and login
// are public and rate limited per client IP.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(credentialRateLimit, credentialRateWindow,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return shared.ClientIP(r), nil
			}),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many attempts, try again later")
			}),
		))
		r.Post("/register", h.register)
		r.Post("/login", h.login)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticate)
		r.Get("/profile", h.profile)
		r.Put("/profile", h.updateProfile)
		r.Put("/change-password", h.changePassword)
		r.Post("/logout", h.logout)
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	sess, err := h.service.Register(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"message":    "User registered successfully",
		"user":       sess.User,
		"token":      sess.Token,
		"expires_in": sess.ExpiresIn,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	sess, err := h.service.Login(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":    "Login successful",
		"user":       sess.User,
		"token":      sess.Token,
		"expires_in": sess.ExpiresIn,
	})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "valid access token required")
	}
	return identity, ok
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	u, err := h.service.Profile(r.Context(), identity)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in users.ProfileInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	u, err := h.service.UpdateProfile(r.Context(), identity, in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Profile updated successfully", "user": u})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	var in ChangePasswordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), identity, in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully"})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.service.Logout(r.Context(), identity); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Logout successful"})
}
