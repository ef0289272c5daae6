package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/reconcile"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvoiceImport reconciles one supplier invoice into the ERP.
	TaskInvoiceImport = "invoice:import"
	// TaskSnapshotRefresh rebuilds the replenishment snapshots.
	TaskSnapshotRefresh = "orders:snapshot"
)

// InvoiceImportPayload carries one invoice through the queue. XML is the
// raw document; json encodes it base64 on the wire.
type InvoiceImportPayload struct {
	XML              []byte `json:"xml"`
	SourceFile       string `json:"source_file"`
	DryRun           bool   `json:"dry_run"`
	AllowAutoCreate  bool   `json:"allow_auto_create"`
	AutoNivelizacija bool   `json:"auto_nivelizacija"`
}

// NewInvoiceImportTask constructs an Asynq task for one invoice.
func NewInvoiceImportTask(payload InvoiceImportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceImport, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// ImportProcessor executes queued invoice imports on the worker.
type ImportProcessor struct {
	Parser     *invoice.Parser
	Reconciler *reconcile.Reconciler
	Logger     *slog.Logger
}

// Handle processes one TaskInvoiceImport task. Malformed payloads and
// unparseable documents are dropped rather than retried; a retry cannot
// fix either.
func (p *ImportProcessor) Handle(ctx context.Context, t *asynq.Task) error {
	if p == nil || p.Parser == nil || p.Reconciler == nil {
		return errors.New("invoice import: processor not configured")
	}
	var payload InvoiceImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	header, lines, err := p.Parser.ParseBytes(payload.XML)
	if err != nil {
		p.Logger.Error("queued invoice unparseable, dropping",
			slog.String("source_file", payload.SourceFile), slog.Any("error", err))
		return asynq.SkipRetry
	}

	result, err := p.Reconciler.Reconcile(ctx, header, lines, reconcile.Options{
		DryRun:           payload.DryRun,
		AllowAutoCreate:  payload.AllowAutoCreate,
		AutoNivelizacija: payload.AutoNivelizacija,
		SourceFile:       payload.SourceFile,
	})
	if err != nil {
		return err
	}
	p.Logger.Info("queued invoice reconciled",
		slog.String("run_id", result.RunID.String()),
		slog.String("document", result.DocumentNumber),
		slog.String("status", result.Status),
		slog.Int("lines", result.LinesInserted))
	return nil
}

// SnapshotRefreshPayload carries scheduling metadata.
type SnapshotRefreshPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSnapshotRefreshTask constructs the nightly snapshot-refresh task.
func NewSnapshotRefreshTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SnapshotRefreshPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotRefresh, body, asynq.Queue(QueueDefault)), nil
}
