package rbac_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

type stubTokens map[string]uuid.UUID

func (s stubTokens) Resolve(_ context.Context, token string) (uuid.UUID, error) {
	id, ok := s[token]
	if !ok {
		return uuid.Nil, shared.ErrSessionNotFound
	}
	return id, nil
}

type stubAccounts map[uuid.UUID]rbac.Account

func (s stubAccounts) LoadAccount(_ context.Context, id uuid.UUID) (rbac.Account, error) {
	acc, ok := s[id]
	if !ok {
		return rbac.Account{}, shared.ErrNotFound
	}
	return acc, nil
}

func newMiddleware() (rbac.Middleware, map[string]uuid.UUID) {
	admin, clerk, disabled := uuid.New(), uuid.New(), uuid.New()
	tokens := stubTokens{"admin": admin, "clerk": clerk, "disabled": disabled, "ghost": uuid.New()}
	accounts := stubAccounts{
		admin:    {ID: admin, Username: "admin", Role: shared.RoleAdmin, IsActive: true},
		clerk:    {ID: clerk, Username: "clerk", Role: shared.RoleUser, Permissions: shared.Permissions{Invoices: true}, IsActive: true},
		disabled: {ID: disabled, Username: "gone", Role: shared.RoleUser, IsActive: false},
	}
	return rbac.Middleware{Service: rbac.NewService(tokens, accounts)}, map[string]uuid.UUID{"admin": admin, "clerk": clerk}
}

func serve(h http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthenticate(t *testing.T) {
	mw, ids := newMiddleware()
	var seen shared.Identity
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, serve(h, "clerk"))
	assert.Equal(t, ids["clerk"], seen.UserID)
	assert.Equal(t, "clerk", seen.Token)

	assert.Equal(t, http.StatusUnauthorized, serve(h, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "nope"))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "disabled"))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "ghost"))
}

func TestRequireAnyAndAdmin(t *testing.T) {
	mw, _ := newMiddleware()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	invoices := mw.Authenticate(mw.RequireAny(shared.PermInvoices)(ok))
	warehouse := mw.Authenticate(mw.RequireAny(shared.PermWarehouse)(ok))
	adminOnly := mw.Authenticate(mw.RequireAdmin()(ok))

	assert.Equal(t, http.StatusOK, serve(invoices, "clerk"))
	assert.Equal(t, http.StatusForbidden, serve(warehouse, "clerk"))
	assert.Equal(t, http.StatusOK, serve(warehouse, "admin"))
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, "clerk"))
	assert.Equal(t, http.StatusOK, serve(adminOnly, "admin"))
}
