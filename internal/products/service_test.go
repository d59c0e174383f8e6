package products

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

type memoryRepo struct {
	products map[uuid.UUID]Product
	usage    map[uuid.UUID]Usage
	// raceLine simulates a line inserted between the usage check and the delete.
	raceLine bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[uuid.UUID]Product{}, usage: map[uuid.UUID]Usage{}}
}

func (m *memoryRepo) List(_ context.Context, f ListFilters, limit, offset int) ([]Product, int, error) {
	var all []Product
	for _, p := range m.products {
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.Code), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memoryRepo) Categories(context.Context) ([]string, error) { return nil, nil }

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) Insert(_ context.Context, p Product) (Product, error) {
	for _, existing := range m.products {
		if existing.Code == p.Code {
			return Product{}, ErrDuplicateCode
		}
	}
	p.ID = uuid.New()
	m.products[p.ID] = p
	return p, nil
}

func (m *memoryRepo) Update(_ context.Context, id uuid.UUID, in Input) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	for otherID, existing := range m.products {
		if otherID != id && existing.Code == in.Code {
			return Product{}, ErrDuplicateCode
		}
	}
	p.Code, p.Name, p.Price = in.Code, in.Name, in.Price
	m.products[id] = p
	return p, nil
}

func (m *memoryRepo) Usage(_ context.Context, id uuid.UUID) (Usage, error) {
	return m.usage[id], nil
}

func (m *memoryRepo) SetActive(_ context.Context, id uuid.UUID, active bool) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	p.IsActive = active
	m.products[id] = p
	return p, nil
}

func (m *memoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	if m.raceLine {
		return ErrInUse
	}
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *memoryRepo) Stats(_ context.Context, id uuid.UUID) (Stats, error) {
	p, ok := m.products[id]
	if !ok {
		return Stats{}, ErrNotFound
	}
	return Stats{ID: p.ID, Code: p.Code, Name: p.Name}, nil
}

type recorder struct{ actions []string }

func (r *recorder) Record(_ context.Context, ev activity.Event) { r.actions = append(r.actions, ev.Action) }

func mustCreate(t *testing.T, svc *Service, code string) Product {
	t.Helper()
	p, err := svc.Create(context.Background(), Input{Code: code, Name: "Item " + code, Price: decimal.NewFromInt(10)})
	require.NoError(t, err)
	return p
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	p := mustCreate(t, svc, "A-1")
	assert.True(t, p.IsActive)

	_, err := svc.Create(context.Background(), Input{Code: " A-1 ", Name: "Other", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrDuplicateCode)
	assert.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Create(context.Background(), Input{Code: "B", Name: "Neg", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteDeactivatesReferencedProduct(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	audit := &recorder{}
	svc := NewService(repo, audit)
	used := mustCreate(t, svc, "USED")
	free := mustCreate(t, svc, "FREE")
	repo.usage[used.ID] = Usage{InvoiceLines: 2}

	result, err := svc.Delete(ctx, used.ID)
	require.NoError(t, err)
	assert.True(t, result.Deactivated)
	assert.False(t, repo.products[used.ID].IsActive)

	result, err = svc.Delete(ctx, free.ID)
	require.NoError(t, err)
	assert.False(t, result.Deactivated)
	_, stillThere := repo.products[free.ID]
	assert.False(t, stillThere)

	assert.Equal(t, []string{ActionCreate, ActionCreate, ActionDeactivate, ActionDelete}, audit.actions)

	_, err = svc.Delete(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteFallsBackWhenLineAppearsConcurrently(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	p := mustCreate(t, svc, "RACE")
	repo.raceLine = true

	result, err := svc.Delete(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, result.Deactivated)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	p := mustCreate(t, svc, "X")
	_, err := repo.SetActive(ctx, p.ID, false)
	require.NoError(t, err)

	activated, err := svc.Activate(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
}

func TestProductRoutes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	for _, code := range []string{"A", "B", "C"} {
		mustCreate(t, svc, code)
	}
	caller := shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.Permissions{Products: true}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), caller)))
		})
	})
	r.Route("/api/products", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products?page=2&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":3`)
	assert.Contains(t, rec.Body.String(), `"hasPrev":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products?limit=500", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/products",
		strings.NewReader(`{"code": "A", "name": "Again", "price": 5}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader(`{"name": "No code", "price": 5}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code"`)
}
