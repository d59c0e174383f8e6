package delivery

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

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]Delivery
}

func newMockRepository() *mockRepository {
	return &mockRepository{deliveries: map[uuid.UUID]Delivery{}}
}

func (m *mockRepository) List(_ context.Context, f ListFilters, limit, offset int) ([]Delivery, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Delivery{}
	for _, d := range m.deliveries {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	return out, len(out), nil
}

func (m *mockRepository) Get(_ context.Context, id uuid.UUID) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	return d, nil
}

func (m *mockRepository) SetSigned(_ context.Context, id uuid.UUID, signed bool) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return Delivery{}, ErrNotFound
	}
	d.IsSigned = signed
	m.deliveries[id] = d
	return d, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *mockRepository) Insert(_ context.Context, d Delivery) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deliveries {
		if existing.Number == d.Number {
			return Delivery{}, ErrDuplicateNumber
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	m.deliveries[d.ID] = d
	return d, nil
}

func (m *mockRepository) LockStatus(_ context.Context, id uuid.UUID) (string, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return "", "", ErrNotFound
	}
	return d.Number, d.Status, nil
}

func (m *mockRepository) SetStatus(_ context.Context, id uuid.UUID, status Status) (Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	d.Status = status
	m.deliveries[id] = d
	return d, nil
}

func (m *mockRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, id)
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

// ============================================================================
// SERVICE TESTS
// ============================================================================

func sampleInput(number string) CreateInput {
	return CreateInput{
		Number:   number,
		Date:     "2024-06-01",
		DueDate:  "2024-06-10",
		ClientID: uuid.New(),
		Items: []ItemInput{
			{ProductID: uuid.New(), Quantity: 5},
			{ProductID: uuid.New(), Quantity: 1, Unit: "kg"},
		},
	}
}

func TestCreateDeliveryDefaultsUnit(t *testing.T) {
	audit := &recordedEvents{}
	svc := NewService(newMockRepository(), audit, nil, nil)

	d, err := svc.Create(context.Background(), sampleInput("DN-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, d.Status)
	require.Len(t, d.Items, 2)
	assert.Equal(t, DefaultUnit, d.Items[0].Unit)
	assert.Equal(t, "kg", d.Items[1].Unit)
	require.Len(t, audit.events, 1)
	assert.Equal(t, ActionCreate, audit.events[0].Action)
	assert.Equal(t, 2, audit.events[0].Details["item_count"])

	_, err = svc.Create(context.Background(), sampleInput("DN-1"))
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateDeliveryValidation(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil, nil)
	in := sampleInput("DN-1")
	in.Items = nil
	_, err := svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrValidation)

	in = sampleInput("DN-1")
	in.DueDate = "tomorrow"
	_, err = svc.Create(context.Background(), in)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeliveryStatusAndDelete(t *testing.T) {
	audit := &recordedEvents{}
	svc := NewService(newMockRepository(), audit, nil, nil)
	d, err := svc.Create(context.Background(), sampleInput("DN-1"))
	require.NoError(t, err)

	confirmed, err := svc.UpdateStatus(context.Background(), d.ID, StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, "UPDATE_DELIVERY_STATUS_CONFIRMED", audit.events[1].Action)
	assert.Equal(t, StatusDraft, audit.events[1].Details["old_status"])

	assert.ErrorIs(t, svc.Delete(context.Background(), d.ID), ErrConfirmedDelete)

	_, err = svc.UpdateStatus(context.Background(), d.ID, StatusDraft)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), d.ID))
	assert.Equal(t, ActionDelete, audit.events[len(audit.events)-1].Action)

	_, err = svc.UpdateStatus(context.Background(), d.ID, StatusConfirmed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSignedToggleIsIndependentOfStatus(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil, nil)
	d, err := svc.Create(context.Background(), sampleInput("DN-1"))
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), d.ID, StatusConfirmed)
	require.NoError(t, err)

	signed, err := svc.SetSigned(context.Background(), d.ID, true)
	require.NoError(t, err)
	assert.True(t, signed.IsSigned)
	assert.Equal(t, StatusConfirmed, signed.Status)
}

// ============================================================================
// HANDLER TESTS
// ============================================================================

func newTestRouter(svc *Service, caller shared.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), caller)))
		})
	})
	r.Route("/api/deliveries", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	return r
}

func send(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDeliveryRoutes(t *testing.T) {
	svc := NewService(newMockRepository(), nil, nil, nil)
	driver := shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.Permissions{Deliveries: true}}
	router := newTestRouter(svc, driver)

	rec := send(newTestRouter(svc, shared.Identity{UserID: uuid.New(), Role: shared.RoleUser}), http.MethodGet, "/api/deliveries", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(router, http.MethodPost, "/api/deliveries", `{"number": "DN-9", "date": "2024-06-01",
		"due_date": "2024-06-02", "client_id": "`+uuid.NewString()+`",
		"items": [{"product_id": "`+uuid.NewString()+`", "quantity": 2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"unit":"ком"`)

	rec = send(router, http.MethodPost, "/api/deliveries", `{"number": "DN-10", "items": [{"quantity": 0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	page, err := svc.List(context.Background(), ListFilters{}, shared.PageRequest{Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Deliveries, 1)
	id := page.Deliveries[0].ID.String()

	rec = send(router, http.MethodPatch, "/api/deliveries/"+id+"/signed", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = send(router, http.MethodPatch, "/api/deliveries/"+id+"/signed", `{"is_signed": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marked as signed")

	rec = send(router, http.MethodPatch, "/api/deliveries/"+id+"/status", `{"status": "confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = send(router, http.MethodDelete, "/api/deliveries/"+id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
