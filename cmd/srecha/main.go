package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/srecha/srecha-invoice/internal/activity"
	"github.com/srecha/srecha-invoice/internal/app"
	"github.com/srecha/srecha-invoice/internal/auth"
	"github.com/srecha/srecha-invoice/internal/clients"
	"github.com/srecha/srecha-invoice/internal/delivery"
	"github.com/srecha/srecha-invoice/internal/export"
	"github.com/srecha/srecha-invoice/internal/inventory"
	"github.com/srecha/srecha-invoice/internal/invoices"
	"github.com/srecha/srecha-invoice/internal/observability"
	"github.com/srecha/srecha-invoice/internal/platform/cache"
	"github.com/srecha/srecha-invoice/internal/platform/db"
	"github.com/srecha/srecha-invoice/internal/products"
	"github.com/srecha/srecha-invoice/internal/rbac"
	"github.com/srecha/srecha-invoice/internal/shared"
	"github.com/srecha/srecha-invoice/internal/users"
	"github.com/srecha/srecha-invoice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:       cfg.PGMaxConns,
		ConnectTimeout: cfg.PGConnect,
		IdleTimeout:    cfg.PGIdle,
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionStore(redisClient, cfg.SessionSecret, cfg.SessionTTL)
	statsCache := cache.NewVersioned(redisClient, "stats", cfg.StatsCacheTTL)

	activityService := activity.NewService(activity.NewRepository(dbpool), logger, metrics)

	usersService := users.NewService(users.NewRepository(dbpool), sessions, activityService, cfg.BcryptCost, logger)
	rbacMiddleware := rbac.Middleware{Service: rbac.NewService(sessions, usersService), Logger: logger}

	authService := auth.NewService(users.NewRepository(dbpool), usersService, sessions, activityService, logger)

	clientsService := clients.NewService(clients.NewRepository(dbpool), activityService, statsCache, logger)
	productsService := products.NewService(products.NewRepository(dbpool), activityService)
	inventoryService := inventory.NewService(inventory.NewRepository(dbpool), activityService, metrics)
	invoicesService := invoices.NewService(invoices.NewRepository(dbpool), inventoryService, activityService, statsCache, logger)
	deliveryService := delivery.NewService(delivery.NewRepository(dbpool), activityService, statsCache, logger)
	exportService := export.NewService(export.NewRepository(dbpool), activityService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		DB:               dbpool,
		RBACMiddleware:   rbacMiddleware,
		Metrics:          metrics,
		AuthHandler:      auth.NewHandler(logger, authService, rbacMiddleware),
		UsersHandler:     users.NewHandler(logger, usersService, rbacMiddleware),
		ClientsHandler:   clients.NewHandler(logger, clientsService, rbacMiddleware),
		ProductsHandler:  products.NewHandler(logger, productsService, rbacMiddleware),
		InventoryHandler: inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		InvoicesHandler:  invoices.NewHandler(logger, invoicesService, rbacMiddleware),
		DeliveryHandler:  delivery.NewHandler(logger, deliveryService, rbacMiddleware),
		ActivityHandler:  activity.NewHandler(logger, activityService, rbacMiddleware, jobClient, cfg.ActivityRetentionDays),
		ExportHandler:    export.NewHandler(logger, exportService, rbacMiddleware),
		JobHandler:       jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
