package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/wellonapharm/smart/internal/app"
	"github.com/wellonapharm/smart/internal/invoice"
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

	docPool, err := db.NewWithSchema(ctx, cfg.PGDSN, cfg.SearchPath())
	if err != nil {
		logger.Error("connect document store", slog.Any("error", err))
		os.Exit(1)
	}
	defer docPool.Close()

	auditPool, err := db.New(ctx, cfg.AuditPGDSN)
	if err != nil {
		logger.Error("connect audit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer auditPool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("redis unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	runs := reconcile.NewRunStore(auditPool)
	audit := reconcile.NewAuditStore(auditPool, logger)
	reconciler, err := reconcile.NewReconciler(cfg, reconcile.NewTxRunner(docPool), audit, runs, logger)
	if err != nil {
		logger.Error("init reconciler", slog.Any("error", err))
		os.Exit(1)
	}

	importer := &jobs.ImportProcessor{
		Parser:     invoice.NewParser(decimal.NewFromFloat(cfg.DefaultVATPct)),
		Reconciler: reconciler,
		Logger:     logger,
	}
	snapshots := &jobs.SnapshotRefreshJob{Pool: auditPool, Logger: logger}

	snapshotTask, err := jobs.NewSnapshotRefreshTask(time.Now().UTC())
	if err != nil {
		logger.Error("build snapshot task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Importer:  importer,
		Snapshots: snapshots,
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: snapshotTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
