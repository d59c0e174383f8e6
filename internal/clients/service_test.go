package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srecha/srecha-invoice/internal/platform/cache"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	clients    map[uuid.UUID]Client
	invoices   map[uuid.UUID]int
	deliveries map[uuid.UUID]int
	statsCalls atomic.Int32
	statsDelay time.Duration
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{clients: map[uuid.UUID]Client{}, invoices: map[uuid.UUID]int{}, deliveries: map[uuid.UUID]int{}}
}

func (m *memoryRepo) List(_ context.Context, search string, limit, offset int) ([]Client, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Client{}
	for _, c := range m.clients {
		if search == "" || strings.Contains(c.Name+c.MB+c.PIB, search) {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryRepo) conflicts(id uuid.UUID, in Input) bool {
	for otherID, c := range m.clients {
		if otherID != id && (c.MB == in.MB || c.PIB == in.PIB) {
			return true
		}
	}
	return false
}

func (m *memoryRepo) Insert(_ context.Context, in Input, createdBy *uuid.UUID) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(uuid.Nil, in) {
		return Client{}, ErrDuplicate
	}
	c := Client{ID: uuid.New(), Name: in.Name, LegalName: in.LegalName, MB: in.MB, PIB: in.PIB, Address: in.Address, Email: in.Email, CreatedBy: createdBy}
	m.clients[c.ID] = c
	return c, nil
}

func (m *memoryRepo) Update(_ context.Context, id uuid.UUID, in Input) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	if m.conflicts(id, in) {
		return Client{}, ErrDuplicate
	}
	c.Name, c.MB, c.PIB = in.Name, in.MB, in.PIB
	m.clients[id] = c
	return c, nil
}

func (m *memoryRepo) Delete(_ context.Context, id uuid.UUID) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	if m.invoices[id] > 0 || m.deliveries[id] > 0 {
		return Client{}, &InUseError{Invoices: m.invoices[id], Deliveries: m.deliveries[id]}
	}
	delete(m.clients, id)
	return c, nil
}

func (m *memoryRepo) Invoices(context.Context, uuid.UUID) ([]InvoiceSummary, error) {
	return []InvoiceSummary{}, nil
}

func (m *memoryRepo) Deliveries(context.Context, uuid.UUID) ([]DeliverySummary, error) {
	return []DeliverySummary{}, nil
}

func (m *memoryRepo) Statistics(_ context.Context, _ uuid.UUID, period Period) (Statistics, error) {
	m.statsCalls.Add(1)
	time.Sleep(m.statsDelay)
	name := "Cheese"
	return Statistics{
		InvoiceCount:       2,
		AverageOrderValue:  decimal.RequireFromString("150.5"),
		TotalRevenue:       decimal.RequireFromString("301"),
		MostPopularProduct: &name,
		AnnualConsumption:  40,
		Period:             period,
	}, nil
}

func sampleInput(mb, pib string) Input {
	return Input{Name: "Client " + mb, LegalName: "Client d.o.o.", MB: mb, PIB: pib, Address: "Main 1"}
}

func TestCreateEnforcesUniqueMBAndPIB(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	first, err := svc.Create(ctx, sampleInput("100", "200"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, sampleInput("100", "999"))
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = svc.Create(ctx, sampleInput("999", "200"))
	assert.ErrorIs(t, err, shared.ErrConflict)

	second, err := svc.Create(ctx, sampleInput("300", "400"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, second.ID, sampleInput("100", "400"))
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.Update(ctx, first.ID, sampleInput("100", "200"))
	assert.NoError(t, err)

	in := sampleInput("500", "600")
	in.Address = "   "
	_, err = svc.Create(ctx, in)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteBlockedByDocuments(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	c, err := svc.Create(ctx, sampleInput("1", "2"))
	require.NoError(t, err)
	repo.invoices[c.ID] = 3

	err = svc.Delete(ctx, c.ID)
	var inUse *InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 3, inUse.Invoices)
	assert.ErrorIs(t, err, ErrClientInUse)
	assert.ErrorIs(t, err, shared.ErrConflict)

	repo.invoices[c.ID] = 0
	require.NoError(t, svc.Delete(ctx, c.ID))
	assert.ErrorIs(t, svc.Delete(ctx, c.ID), shared.ErrNotFound)
}

func newStatsCache(t *testing.T) (*cache.Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, "client-stats", time.Minute), mr
}

func TestStatisticsCachedUntilBump(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	stats, _ := newStatsCache(t)
	svc := NewService(repo, nil, stats, nil)
	c, err := svc.Create(ctx, sampleInput("1", "2"))
	require.NoError(t, err)

	first, err := svc.Statistics(ctx, c.ID, PeriodYear)
	require.NoError(t, err)
	assert.Equal(t, 2, first.InvoiceCount)
	assert.True(t, first.TotalRevenue.Equal(decimal.NewFromInt(301)))

	second, err := svc.Statistics(ctx, c.ID, PeriodYear)
	require.NoError(t, err)
	assert.Equal(t, first.InvoiceCount, second.InvoiceCount)
	assert.Equal(t, int32(1), repo.statsCalls.Load())

	_, err = svc.Statistics(ctx, c.ID, PeriodMonth)
	require.NoError(t, err)
	assert.Equal(t, int32(2), repo.statsCalls.Load())

	require.NoError(t, stats.Bump(ctx))
	_, err = svc.Statistics(ctx, c.ID, PeriodYear)
	require.NoError(t, err)
	assert.Equal(t, int32(3), repo.statsCalls.Load())

	_, err = svc.Statistics(ctx, uuid.New(), PeriodYear)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestStatisticsConcurrentRequestsShareQuery(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.statsDelay = 50 * time.Millisecond
	svc := NewService(repo, nil, nil, nil)
	c, err := svc.Create(ctx, sampleInput("1", "2"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Statistics(ctx, c.ID, PeriodQuarter)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, repo.statsCalls.Load(), int32(8))
}

func TestStatisticsFallsBackWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	stats, mr := newStatsCache(t)
	svc := NewService(repo, nil, stats, nil)
	c, err := svc.Create(ctx, sampleInput("1", "2"))
	require.NoError(t, err)
	mr.Close()

	got, err := svc.Statistics(ctx, c.ID, PeriodYear)
	require.NoError(t, err)
	assert.Equal(t, PeriodYear, got.Period)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodYear, p)
	p, err = ParsePeriod("Quarter")
	require.NoError(t, err)
	assert.Equal(t, PeriodQuarter, p)
	_, err = ParsePeriod("week")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestClientRoutes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	caller := shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.Permissions{Clients: true}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), caller)))
		})
	})
	r.Route("/api/clients", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	serve := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	rec := serve(http.MethodPost, "/api/clients", `{"name":"Acme","legal_name":"Acme d.o.o.","mb":"1","pib":"2","address":"Main 1","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email"`)

	rec = serve(http.MethodPost, "/api/clients", `{"name":"Acme","legal_name":"Acme d.o.o.","mb":"1","pib":"2","address":"Main 1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Client Client `json:"client"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	repo.deliveries[created.Client.ID] = 1
	rec = serve(http.MethodDelete, "/api/clients/"+created.Client.ID.String(), "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"invoices":0,"deliveries":1}`, mustField(t, rec.Body.Bytes(), "details"))

	repo.deliveries[created.Client.ID] = 0
	rec = serve(http.MethodDelete, "/api/clients/"+created.Client.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(http.MethodGet, "/api/clients/"+uuid.NewString()+"/statistics?period=week", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustField(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}
