package users

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// memoryRepo is an in-memory Repository.
type memoryRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]User
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[uuid.UUID]User{}}
}

func (m *memoryRepo) List(context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memoryRepo) GetByUsername(_ context.Context, username string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memoryRepo) Insert(_ context.Context, nu NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == nu.Username || (u.Email != nil && nu.Email != nil && *u.Email == *nu.Email) {
			return User{}, ErrDuplicate
		}
	}
	now := time.Now()
	u := User{
		ID:           uuid.New(),
		Username:     nu.Username,
		Email:        nu.Email,
		FullName:     nu.FullName,
		Role:         nu.Role,
		Permissions:  nu.Permissions,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		PasswordHash: nu.PasswordHash,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryRepo) update(id uuid.UUID, fn func(*User)) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	fn(&u)
	m.users[id] = u
	return u, nil
}

func (m *memoryRepo) UpdateProfile(_ context.Context, id uuid.UUID, fullName, email *string) (User, error) {
	return m.update(id, func(u *User) {
		if fullName != nil {
			u.FullName = fullName
		}
		if email != nil {
			u.Email = email
		}
	})
}

func (m *memoryRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	_, err := m.update(id, func(u *User) { u.PasswordHash = hash })
	return err
}

func (m *memoryRepo) UpdatePermissions(_ context.Context, id uuid.UUID, perms shared.Permissions) (User, error) {
	return m.update(id, func(u *User) { u.Permissions = perms })
}

func (m *memoryRepo) ToggleActive(_ context.Context, id uuid.UUID) (User, error) {
	return m.update(id, func(u *User) { u.IsActive = !u.IsActive })
}

func (m *memoryRepo) Delete(_ context.Context, id uuid.UUID) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	delete(m.users, id)
	return u, nil
}

func (m *memoryRepo) TouchLogin(_ context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := m.update(id, func(u *User) { u.LastLogin = &now })
	return err
}

type revocations struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *revocations) RevokeUser(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []activity.Event
}

func (r *recordedEvents) Record(_ context.Context, ev activity.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordedEvents) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	revoked *revocations
	audit   *recordedEvents
}

func newFixture() fixture {
	f := fixture{repo: newMemoryRepo(), revoked: &revocations{}, audit: &recordedEvents{}}
	f.svc = NewService(f.repo, f.revoked, f.audit, bcrypt.MinCost, nil)
	return f
}

func asAdmin(ctx context.Context, id uuid.UUID) context.Context {
	return shared.ContextWithIdentity(ctx, shared.Identity{UserID: id, Username: "admin", Role: shared.RoleAdmin})
}

func TestCreateDefaultsRoleAndHashesPassword(t *testing.T) {
	f := newFixture()
	email := "  ana@example.com "
	u, err := f.svc.Create(context.Background(), CreateInput{Username: "ana", Password: "secret1", Email: &email})
	require.NoError(t, err)
	assert.Equal(t, shared.RoleUser, u.Role)
	assert.Equal(t, shared.Permissions{}, u.Permissions)
	require.NotNil(t, u.Email)
	assert.Equal(t, "ana@example.com", *u.Email)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))
	assert.Equal(t, []string{ActionCreate}, f.audit.actions())

	_, err = f.svc.Create(context.Background(), CreateInput{Username: "ana", Password: "secret1"})
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.Create(context.Background(), CreateInput{Username: "bob", Password: "123"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(context.Background(), CreateInput{Username: "bob", Password: "secret1", Role: "root"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdminCannotDeleteOrDeactivateSelf(t *testing.T) {
	f := newFixture()
	admin, err := f.svc.Create(context.Background(), CreateInput{Username: "admin", Password: "secret1", Role: shared.RoleAdmin})
	require.NoError(t, err)
	ctx := asAdmin(context.Background(), admin.ID)

	assert.ErrorIs(t, f.svc.Delete(ctx, admin.ID), shared.ErrValidation)
	_, err = f.svc.ToggleStatus(ctx, admin.ID)
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, f.revoked.ids)
}

func TestToggleStatusRevokesOnDeactivation(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Create(context.Background(), CreateInput{Username: "marko", Password: "secret1"})
	require.NoError(t, err)
	ctx := asAdmin(context.Background(), uuid.New())

	off, err := f.svc.ToggleStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)
	assert.Equal(t, []uuid.UUID{u.ID}, f.revoked.ids)

	on, err := f.svc.ToggleStatus(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, on.IsActive)
	assert.Len(t, f.revoked.ids, 1)
	assert.Equal(t, []string{ActionCreate, ActionDeactivate, ActionActivate}, f.audit.actions())

	account, err := f.svc.LoadAccount(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, account.IsActive)
	assert.Equal(t, "marko", account.Username)
}

func TestDeleteRevokesSessions(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Create(context.Background(), CreateInput{Username: "jovan", Password: "secret1"})
	require.NoError(t, err)
	ctx := asAdmin(context.Background(), uuid.New())

	require.NoError(t, f.svc.Delete(ctx, u.ID))
	assert.Equal(t, []uuid.UUID{u.ID}, f.revoked.ids)
	assert.ErrorIs(t, f.svc.Delete(ctx, u.ID), shared.ErrNotFound)

	_, err = f.svc.LoadAccount(ctx, u.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdatePermissions(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Create(context.Background(), CreateInput{Username: "mila", Password: "secret1"})
	require.NoError(t, err)

	updated, err := f.svc.UpdatePermissions(context.Background(), u.ID, shared.Permissions{Invoices: true})
	require.NoError(t, err)
	assert.True(t, updated.Permissions.Has(shared.PermInvoices))
	assert.False(t, updated.Permissions.Has(shared.PermClients))

	_, err = f.svc.UpdatePermissions(context.Background(), uuid.New(), shared.Permissions{})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func newTestRouter(svc *Service, caller shared.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), caller)))
		})
	})
	r.Route("/api/auth/users", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	return r
}

func send(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUserRoutesRequireAdmin(t *testing.T) {
	f := newFixture()
	editor := shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.AllPermissions()}
	rec := send(newTestRouter(f.svc, editor), http.MethodGet, "/api/auth/users", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUserRoutes(t *testing.T) {
	f := newFixture()
	admin := shared.Identity{UserID: uuid.New(), Username: "admin", Role: shared.RoleAdmin}
	router := newTestRouter(f.svc, admin)

	rec := send(router, http.MethodPost, "/api/auth/users", `{"username": "x", "password": "secret1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/api/auth/users",
		`{"username": "petar_1", "password": "secret1", "permissions": {"clients": true}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	u, err := f.repo.GetByUsername(context.Background(), "petar_1")
	require.NoError(t, err)
	assert.True(t, u.Permissions.Clients)

	rec = send(router, http.MethodPost, "/api/auth/users", `{"username": "petar_1", "password": "secret1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = send(router, http.MethodPut, "/api/auth/users/"+u.ID.String()+"/permissions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(router, http.MethodPut, "/api/auth/users/"+u.ID.String()+"/permissions",
		`{"permissions": {"invoices": true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"invoices":true`)

	rec = send(router, http.MethodPut, "/api/auth/users/"+u.ID.String()+"/toggle-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deactivated")

	rec = send(router, http.MethodDelete, "/api/auth/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(router, http.MethodDelete, "/api/auth/users/"+admin.UserID.String(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(router, http.MethodDelete, "/api/auth/users/"+u.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
