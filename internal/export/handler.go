package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/srecha/srecha-invoice/internal/platform/httpx"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler serves export downloads.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

// MountRoutes registers export routes. Each dataset is guarded by the
// permission of the feature it belongs to and limited per user.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if identity, ok := shared.IdentityFromContext(r.Context()); ok {
				return "user:" + identity.UserID.String(), nil
			}
			return "ip:" + shared.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	))
	r.With(h.rbac.RequireAny(shared.PermStatistics)).Get("/invoices/excel", h.serve(KindInvoices))
	r.With(h.rbac.RequireAny(shared.PermStatistics)).Get("/deliveries/excel", h.serve(KindDeliveries))
	r.With(h.rbac.RequireAny(shared.PermClients)).Get("/clients/excel", h.serve(KindClients))
	r.With(h.rbac.RequireAny(shared.PermProducts)).Get("/products/excel", h.serve(KindProducts))
	r.With(h.rbac.RequireAny(shared.PermWarehouse)).Get("/product-groups/excel", h.serve(KindProductGroups))
}

func (h *Handler) serve(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		filters, err := parseFilters(r)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		table, err := h.service.Export(r.Context(), kind, filters, format)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}

		var buf bytes.Buffer
		if format == FormatJSON {
			err = WriteJSON(&buf, table)
		} else {
			err = WriteCSV(&buf, table)
		}
		if err != nil {
			httpx.RespondError(w, h.logger, fmt.Errorf("encode %s export: %w", kind, err))
			return
		}
		if format == FormatJSON {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			name := fmt.Sprintf("%s_%s.csv", kind, h.now().UTC().Format("2006-01-02"))
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{
		Status:   strings.TrimSpace(q.Get("status")),
		Search:   strings.TrimSpace(q.Get("search")),
		Category: strings.TrimSpace(q.Get("category")),
	}
	if raw := strings.TrimSpace(q.Get("client_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, fmt.Errorf("%w: client_id must be a valid UUID", shared.ErrValidation)
		}
		f.ClientID = &id
	}
	for _, p := range []struct {
		key  string
		dest **time.Time
	}{{"start_date", &f.Start}, {"end_date", &f.End}} {
		raw := strings.TrimSpace(q.Get(p.key))
		if raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be YYYY-MM-DD", shared.ErrValidation, p.key)
		}
		*p.dest = &t
	}
	if raw := strings.TrimSpace(q.Get("active_only")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%w: active_only must be true or false", shared.ErrValidation)
		}
		f.ActiveOnly = v
	}
	return f, nil
}
