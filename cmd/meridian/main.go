package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian-pos/internal/app"
	"github.com/meridian-retail/meridian-pos/internal/billing"
	"github.com/meridian-retail/meridian-pos/internal/catalog/branches"
	"github.com/meridian-retail/meridian-pos/internal/catalog/products"
	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/observability"
	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
	"github.com/meridian-retail/meridian-pos/internal/stocktake"
	"github.com/meridian-retail/meridian-pos/internal/transfer"
	"github.com/meridian-retail/meridian-pos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo)
	productsHandler := products.NewHandler(logger, productsService)

	branchesRepo := branches.NewRepository(pool)
	branchesService := branches.NewService(branchesRepo)
	branchesHandler := branches.NewHandler(logger, branchesService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotencyStore)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, auditLogger)
	transferHandler := transfer.NewHandler(logger, transferService)

	stocktakeRepo := stocktake.NewRepository(pool)
	stocktakeService := stocktake.NewService(stocktakeRepo, auditLogger, productsService)
	stocktakeHandler := stocktake.NewHandler(logger, stocktakeService)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, auditLogger)
	billingHandler := billing.NewHandler(logger, billingService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledgerHandler,
		TransferHandler:  transferHandler,
		StocktakeHandler: stocktakeHandler,
		BillingHandler:   billingHandler,
		ProductsHandler:  productsHandler,
		BranchesHandler:  branchesHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
