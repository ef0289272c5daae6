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
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/wellonapharm/smart/internal/app"
	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/ordering"
	"github.com/wellonapharm/smart/internal/platform/cache"
	"github.com/wellonapharm/smart/internal/platform/db"
	"github.com/wellonapharm/smart/internal/reconcile"
	"github.com/wellonapharm/smart/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	// Document target pool. For the remote-proxy target this carries the
	// FDW schema in its search_path.
	docPool, err := db.NewWithSchema(ctx, cfg.PGDSN, cfg.SearchPath())
	if err != nil {
		logger.Error("connect document store", slog.Any("error", err))
		os.Exit(1)
	}
	defer docPool.Close()

	// Audit and run bookkeeping always live in the local database.
	auditPool, err := db.New(ctx, cfg.AuditPGDSN)
	if err != nil {
		logger.Error("connect audit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer auditPool.Close()

	runs := reconcile.NewRunStore(auditPool)
	audit := reconcile.NewAuditStore(auditPool, logger)
	reconciler, err := reconcile.NewReconciler(cfg, reconcile.NewTxRunner(docPool), audit, runs, logger)
	if err != nil {
		logger.Error("init reconciler", slog.Any("error", err))
		os.Exit(1)
	}

	parser := invoice.NewParser(decimal.NewFromFloat(cfg.DefaultVATPct))

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, queue endpoints degraded", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	importHandler := reconcile.NewHandler(parser, reconciler, runs, queue,
		cfg.AllowAutoCreate, cfg.AutoNivelizacija, logger)

	orderingSvc := ordering.NewService(ordering.NewRepository(auditPool), logger)
	orderingHandler := ordering.NewHandler(orderingSvc, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ImportHandler:   importHandler,
		OrderingHandler: orderingHandler,
		JobHandler:      jobHandler,
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
