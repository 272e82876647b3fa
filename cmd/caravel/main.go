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

	"github.com/caravel-erp/caravel-erp/internal/app"
	"github.com/caravel-erp/caravel-erp/internal/inventory"
	"github.com/caravel-erp/caravel-erp/internal/journal"
	"github.com/caravel-erp/caravel-erp/internal/ledger"
	"github.com/caravel-erp/caravel-erp/internal/payments"
	"github.com/caravel-erp/caravel-erp/internal/periods"
	"github.com/caravel-erp/caravel-erp/internal/platform/cache"
	"github.com/caravel-erp/caravel-erp/internal/platform/db"
	"github.com/caravel-erp/caravel-erp/internal/recon"
	"github.com/caravel-erp/caravel-erp/internal/shared"
	"github.com/caravel-erp/caravel-erp/jobs"
)

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, account tree cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)

	periodsRepo := periods.NewRepository(pool)
	guard := periods.NewGuard(periodsRepo)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)
	if redisClient != nil {
		ledgerService.WithCache(ledger.NewTreeCache(redisClient, 5*time.Minute))
	}
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	journalRepo := journal.NewRepository(pool)
	journalService := journal.NewService(journalRepo, auditLogger, guard)
	journalHandler := journal.NewHandler(logger, journalService)

	periodsService := periods.NewService(periodsRepo, journalService, ledgerService, auditLogger)
	periodsHandler := periods.NewHandler(logger, periodsService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryEngine := inventory.NewEngine(inventoryRepo, auditLogger)
	inventoryHandler := inventory.NewHandler(logger, inventoryEngine)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	paymentsRepo := payments.NewRepository(pool)
	paymentsService := payments.NewService(paymentsRepo, auditLogger, guard, jobsClient, logger)
	paymentsHandler := payments.NewHandler(logger, paymentsService)

	reconRepo := recon.NewRepository(pool)
	reconService := recon.NewService(reconRepo, ledgerService, auditLogger)
	reconHandler := recon.NewHandler(logger, reconService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledgerHandler,
		JournalHandler:   journalHandler,
		PeriodsHandler:   periodsHandler,
		InventoryHandler: inventoryHandler,
		PaymentsHandler:  paymentsHandler,
		ReconHandler:     reconHandler,
		JobsHandler:      jobsHandler,
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
