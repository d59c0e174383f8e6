package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

func newTestRouter(svc *Service, caller shared.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithIdentity(req.Context(), caller)))
		})
	})
	r.Route("/api/product-groups", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	return r
}

func send(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var warehouseClerk = shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.Permissions{Warehouse: true}}

func TestProductGroupRoutesRequireWarehouse(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	clerk := shared.Identity{UserID: uuid.New(), Role: shared.RoleUser, Permissions: shared.Permissions{Invoices: true}}
	rec := send(newTestRouter(svc, clerk), http.MethodGet, "/api/product-groups", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(newTestRouter(svc, warehouseClerk), http.MethodGet, "/api/product-groups", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCreateLotEndpoint(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	router := newTestRouter(svc, warehouseClerk)

	rec := send(router, http.MethodPost, "/api/product-groups", `{
		"name": "Lot A", "quantity_type": "weight", "original_quantity": 10000,
		"shipment_date": "2024-03-01", "reservation_type": "weight", "reservation_amount": 500}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var lot Lot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lot))
	assert.Equal(t, "9000", lot.CurrentQuantity.String())

	rec = send(router, http.MethodPost, "/api/product-groups", `{
		"name": "Lot A", "quantity_type": "weight", "original_quantity": 1,
		"shipment_date": "2024-03-01", "reservation_type": "weight"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = send(router, http.MethodPost, "/api/product-groups", `{"name": "Lot B", "quantity_type": "boxes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddProductEndpointConflictNamesLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	router := newTestRouter(svc, warehouseClerk)
	lotA := newLot(t, svc, "Lot A", "100", "0")
	lotB := newLot(t, svc, "Lot B", "100", "0")
	p := repo.addProduct("P1", "1")

	body := `{"product_id": "` + p.ID.String() + `"}`
	rec := send(router, http.MethodPost, "/api/product-groups/"+lotA.ID.String()+"/products", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = send(router, http.MethodPost, "/api/product-groups/"+lotB.ID.String()+"/products", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Lot A")

	rec = send(router, http.MethodDelete, "/api/product-groups/"+lotB.ID.String()+"/products/"+p.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(router, http.MethodGet, "/api/product-groups/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStockEndpoint(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	router := newTestRouter(svc, warehouseClerk)
	lot := newLot(t, svc, "Lot A", "100", "0")
	p := repo.addProduct("P1", "2")
	require.NoError(t, svc.AddProduct(context.Background(), lot.ID, p.ID))

	rec := send(router, http.MethodPost, "/api/product-groups/update-stock", `{"invoice_items": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/api/product-groups/update-stock",
		`{"invoice_items": [{"product_id": "`+p.ID.String()+`", "quantity": 0}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(router, http.MethodPost, "/api/product-groups/update-stock",
		`{"invoice_items": [{"product_id": "`+p.ID.String()+`", "quantity": 5}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Updates []StockUpdate `json:"updates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Updates, 1)
	assert.Equal(t, "85", body.Updates[0].NewStock.String())
}
