package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/srecha/srecha-invoice/internal/platform/httpx"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// Middleware wires authentication and authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Authenticate resolves the bearer token and stores the caller identity in
// the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Service.Identify(r.Context(), shared.BearerToken(r))
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "valid access token required")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("rbac authenticate", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequireAny ensures the current user holds at least one of perms. Admins
// always pass.
func (m Middleware) RequireAny(perms ...shared.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "valid access token required")
				return
			}
			if len(perms) == 0 || identity.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range perms {
				if identity.Can(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if m.Logger != nil {
				m.Logger.Warn("rbac permission denied",
					slog.String("user", identity.Username),
					slog.String("path", r.URL.Path))
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
		})
	}
}

// RequireAdmin restricts the route to admins.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "valid access token required")
				return
			}
			if !identity.IsAdmin() {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
