package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wellonapharm/smart/internal/app"
	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/platform/db"
	"github.com/wellonapharm/smart/internal/reconcile"
)

var rootCmd = &cobra.Command{
	Use:   "smartctl",
	Short: "Back-office tool for invoice imports and order proposals",
	Long: `smartctl drives the invoice reconciliation engine from the command
line: import a single supplier XML invoice, sweep a directory of them,
or print order proposals for a supplier.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "smartctl: %v\n", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs, with one Close.
type runtime struct {
	cfg        *app.Config
	log        *slog.Logger
	docPool    *pgxpool.Pool
	auditPool  *pgxpool.Pool
	parser     *invoice.Parser
	reconciler *reconcile.Reconciler
}

func (rt *runtime) Close() {
	if rt.docPool != nil {
		rt.docPool.Close()
	}
	if rt.auditPool != nil {
		rt.auditPool.Close()
	}
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	docPool, err := db.NewWithSchema(ctx, cfg.PGDSN, cfg.SearchPath())
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	auditPool, err := db.New(ctx, cfg.AuditPGDSN)
	if err != nil {
		docPool.Close()
		return nil, fmt.Errorf("connect audit store: %w", err)
	}

	runs := reconcile.NewRunStore(auditPool)
	audit := reconcile.NewAuditStore(auditPool, logger)
	reconciler, err := reconcile.NewReconciler(cfg, reconcile.NewTxRunner(docPool), audit, runs, logger)
	if err != nil {
		docPool.Close()
		auditPool.Close()
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		log:        logger,
		docPool:    docPool,
		auditPool:  auditPool,
		parser:     invoice.NewParser(decimal.NewFromFloat(cfg.DefaultVATPct)),
		reconciler: reconciler,
	}, nil
}
