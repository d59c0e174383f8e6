package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/auth"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
	"github.com/srecha/srecha-invoice/internal/users"
	_ "github.com/srecha/srecha-invoice/testing"
)

type stubAccounts struct {
	mu    sync.Mutex
	users map[uuid.UUID]users.User
}

func newStubAccounts() *stubAccounts {
	return &stubAccounts{users: map[uuid.UUID]users.User{}}
}

func (s *stubAccounts) List(context.Context) ([]users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []users.User{}
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubAccounts) Get(_ context.Context, id uuid.UUID) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *stubAccounts) GetByUsername(_ context.Context, username string) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (s *stubAccounts) Insert(_ context.Context, nu users.NewUser) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == nu.Username {
			return users.User{}, users.ErrDuplicate
		}
	}
	u := users.User{
		ID:           uuid.New(),
		Username:     nu.Username,
		Email:        nu.Email,
		FullName:     nu.FullName,
		Role:         nu.Role,
		Permissions:  nu.Permissions,
		IsActive:     true,
		CreatedAt:    time.Now(),
		PasswordHash: nu.PasswordHash,
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *stubAccounts) mutate(id uuid.UUID, fn func(*users.User)) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	fn(&u)
	s.users[id] = u
	return u, nil
}

func (s *stubAccounts) UpdateProfile(_ context.Context, id uuid.UUID, fullName, email *string) (users.User, error) {
	return s.mutate(id, func(u *users.User) {
		if fullName != nil {
			u.FullName = fullName
		}
		if email != nil {
			u.Email = email
		}
	})
}

func (s *stubAccounts) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	_, err := s.mutate(id, func(u *users.User) { u.PasswordHash = hash })
	return err
}

func (s *stubAccounts) UpdatePermissions(_ context.Context, id uuid.UUID, perms shared.Permissions) (users.User, error) {
	return s.mutate(id, func(u *users.User) { u.Permissions = perms })
}

func (s *stubAccounts) ToggleActive(_ context.Context, id uuid.UUID) (users.User, error) {
	return s.mutate(id, func(u *users.User) { u.IsActive = !u.IsActive })
}

func (s *stubAccounts) Delete(_ context.Context, id uuid.UUID) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	delete(s.users, id)
	return u, nil
}

func (s *stubAccounts) TouchLogin(_ context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := s.mutate(id, func(u *users.User) { u.LastLogin = &now })
	return err
}

type recordedEvents struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordedEvents) Record(_ context.Context, ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, ev.Action)
}

type env struct {
	router   http.Handler
	accounts *stubAccounts
	audit    *recordedEvents
	userSvc  *users.Service
}

func newEnv(t *testing.T) env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionStore(client, "secret", time.Hour)

	accounts := newStubAccounts()
	audit := &recordedEvents{}
	userSvc := users.NewService(accounts, sessions, audit, bcrypt.MinCost, nil)
	mw := rbac.Middleware{Service: rbac.NewService(sessions, userSvc)}
	handler := auth.NewHandler(nil, auth.NewService(accounts, userSvc, sessions, audit, nil), mw)

	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		handler.MountRoutes(r)
		r.With(mw.Authenticate).Route("/users", users.NewHandler(nil, userSvc, mw).MountRoutes)
	})
	return env{router: r, accounts: accounts, audit: audit, userSvc: userSvc}
}

func (e env) send(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func tokenFrom(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestRegisterLoginLogout(t *testing.T) {
	e := newEnv(t)

	rec := e.send(http.MethodPost, "/api/auth/register", "", `{"username": "ab", "password": "secret1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.send(http.MethodPost, "/api/auth/register", "", `{"username": "марко", "password": "secret1", "email": "marko@example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password_hash")
	registered := tokenFrom(t, rec)

	rec = e.send(http.MethodPost, "/api/auth/register", "", `{"username": "марко", "password": "secret1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.send(http.MethodPost, "/api/auth/login", "", `{"username": "марко", "password": "wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.send(http.MethodPost, "/api/auth/login", "", `{"username": "марко", "password": "secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := tokenFrom(t, rec)
	assert.NotEqual(t, registered, token)

	rec = e.send(http.MethodGet, "/api/auth/profile", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marko@example.com")

	rec = e.send(http.MethodPost, "/api/auth/logout", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.send(http.MethodGet, "/api/auth/profile", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.send(http.MethodGet, "/api/auth/profile", registered, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{auth.ActionRegister, auth.ActionLogin, auth.ActionLogout}, e.audit.actions)
}

func TestProfileRequiresToken(t *testing.T) {
	e := newEnv(t)
	rec := e.send(http.MethodGet, "/api/auth/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.send(http.MethodGet, "/api/auth/profile", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordAndProfile(t *testing.T) {
	e := newEnv(t)
	rec := e.send(http.MethodPost, "/api/auth/register", "", `{"username": "ana", "password": "secret1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := tokenFrom(t, rec)

	rec = e.send(http.MethodPut, "/api/auth/profile", token, `{"full_name": "Ana Anić"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ana Anić")

	rec = e.send(http.MethodPut, "/api/auth/change-password", token, `{"current_password": "nope", "new_password": "secret2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.send(http.MethodPut, "/api/auth/change-password", token, `{"current_password": "secret1", "new_password": "123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.send(http.MethodPut, "/api/auth/change-password", token, `{"current_password": "secret1", "new_password": "secret2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.send(http.MethodPost, "/api/auth/login", "", `{"username": "ana", "password": "secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.send(http.MethodPost, "/api/auth/login", "", `{"username": "ana", "password": "secret2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	e := newEnv(t)
	admin, err := e.userSvc.Create(context.Background(), users.CreateInput{Username: "admin", Password: "secret1", Role: shared.RoleAdmin})
	require.NoError(t, err)
	rec := e.send(http.MethodPost, "/api/auth/login", "", `{"username": "admin", "password": "secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	adminToken := tokenFrom(t, rec)

	rec = e.send(http.MethodPost, "/api/auth/register", "", `{"username": "worker", "password": "secret1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	workerToken := tokenFrom(t, rec)
	worker, err := e.accounts.GetByUsername(context.Background(), "worker")
	require.NoError(t, err)

	rec = e.send(http.MethodGet, "/api/auth/users", workerToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.send(http.MethodPut, "/api/auth/users/"+worker.ID.String()+"/toggle-status", adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.send(http.MethodGet, "/api/auth/profile", workerToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.send(http.MethodPost, "/api/auth/login", "", `{"username": "worker", "password": "secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = e.send(http.MethodPut, "/api/auth/users/"+admin.ID.String()+"/toggle-status", adminToken, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
