package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/auth"
	"github.com/srecha/srecha-invoice/internal/clients"
	"github.com/srecha/srecha-invoice/internal/delivery"
	"github.com/srecha/srecha-invoice/internal/export"
	"github.com/srecha/srecha-invoice/internal/inventory"
	"github.com/srecha/srecha-invoice/internal/invoices"
	"github.com/srecha/srecha-invoice/internal/observability"
	"github.com/srecha/srecha-invoice/internal/platform/httpx"
	"github.com/srecha/srecha-invoice/internal/products"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/users"
	"github.com/srecha/srecha-invoice/jobs"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Pinger = (*pgxpool.Pool)(nil)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	DB             Pinger
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics

	AuthHandler      *auth.Handler
	UsersHandler     *users.Handler
	ClientsHandler   *clients.Handler
	ProductsHandler  *products.Handler
	InventoryHandler *inventory.Handler
	InvoicesHandler  *invoices.Handler
	DeliveryHandler  *delivery.Handler
	ActivityHandler  *activity.Handler
	ExportHandler    *export.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/health", healthHandler(params))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if params.AuthHandler != nil {
			r.Route("/auth", func(r chi.Router) {
				params.AuthHandler.MountRoutes(r)
				if params.UsersHandler != nil {
					r.With(params.RBACMiddleware.Authenticate).Route("/users", params.UsersHandler.MountRoutes)
				}
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.Authenticate)
			mount(r, "/clients", params.ClientsHandler)
			mount(r, "/products", params.ProductsHandler)
			mount(r, "/product-groups", params.InventoryHandler)
			mount(r, "/invoices", params.InvoicesHandler)
			mount(r, "/deliveries", params.DeliveryHandler)
			mount(r, "/logs", params.ActivityHandler)
			mount(r, "/export", params.ExportHandler)
			if params.JobHandler != nil {
				r.With(params.RBACMiddleware.RequireAdmin()).Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "Route not found")
	})
	return r
}

type routeMounter interface {
	MountRoutes(chi.Router)
}

// mount skips handlers left unset by the caller.
func mount[H interface {
	routeMounter
	comparable
}](r chi.Router, pattern string, h H) {
	var zero H
	if h == zero {
		return
	}
	r.Route(pattern, h.MountRoutes)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
	Database    string    `json:"database"`
}

func healthHandler(params RouterParams) http.HandlerFunc {
	env := "development"
	if params.Config != nil {
		env = params.Config.AppEnv
	}
	return func(w http.ResponseWriter, r *http.Request) {
		out := healthResponse{Status: "OK", Timestamp: time.Now().UTC(), Environment: env, Database: "connected"}
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("health database ping", slog.Any("error", err))
				out.Status = "ERROR"
				out.Database = "disconnected"
				httpx.JSON(w, http.StatusServiceUnavailable, out)
				return
			}
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}
