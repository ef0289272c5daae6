package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wellonapharm/smart/internal/appconfig"
	"github.com/wellonapharm/smart/internal/catalog"
	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/platform/db"
	"github.com/wellonapharm/smart/internal/pricing"
	"github.com/wellonapharm/smart/internal/supplier"
)

// Stores groups the transaction-bound repositories one reconcile run
// works with.
type Stores struct {
	Docs      Repository
	Catalog   catalog.Repository
	Suppliers supplier.Repository
}

// TxRunner opens a transaction and hands the run repositories bound to it.
// WithTxRollback always rolls back; dry runs exercise the full write path
// through it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(Stores) error) error
	WithTxRollback(ctx context.Context, fn func(Stores) error) error
}

type poolTxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner builds a TxRunner over the document target pool.
func NewTxRunner(pool *pgxpool.Pool) TxRunner {
	return &poolTxRunner{pool: pool}
}

func (r *poolTxRunner) stores(tx pgx.Tx) Stores {
	return Stores{
		Docs:      NewRepository(tx),
		Catalog:   catalog.NewRepository(tx),
		Suppliers: supplier.NewRepository(tx),
	}
}

func (r *poolTxRunner) WithTx(ctx context.Context, fn func(Stores) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error { return fn(r.stores(tx)) })
}

func (r *poolTxRunner) WithTxRollback(ctx context.Context, fn func(Stores) error) error {
	return db.WithTxRollback(ctx, r.pool, func(tx pgx.Tx) error { return fn(r.stores(tx)) })
}

// PriceAuditor receives preservation decisions. Implemented by AuditStore.
type PriceAuditor interface {
	RecordPriceDecision(ctx context.Context, rec AuditRecord) error
}

// Reconciler is the invoice-to-document service.
type Reconciler struct {
	runner TxRunner
	audit  PriceAuditor
	runs   *RunStore // optional
	policy PricePolicy
	log    *slog.Logger

	warehouse    string
	documentType string
	periodID     int
	userID       int

	defaultMarginPct decimal.Decimal
	overheadPct      decimal.Decimal
	rounding         pricing.Mode
	roundThreshold   decimal.Decimal

	targetSchema     string
	allowRemoteWrite bool
}

// NewReconciler wires the service from configuration.
func NewReconciler(cfg *appconfig.Config, runner TxRunner, audit PriceAuditor, runs *RunStore, log *slog.Logger) (*Reconciler, error) {
	mode, err := pricing.ParseMode(cfg.RoundingMode)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		runner: runner,
		audit:  audit,
		runs:   runs,
		policy: PricePolicy{
			Enabled:   cfg.PreservePrice,
			Tolerance: decimal.NewFromFloat(cfg.PriceTolerance),
		},
		log:              log,
		warehouse:        cfg.WarehouseCode,
		documentType:     cfg.DocumentType,
		periodID:         cfg.PeriodID,
		userID:           cfg.UserID,
		defaultMarginPct: decimal.NewFromFloat(cfg.DefaultMarginPct),
		overheadPct:      decimal.NewFromFloat(cfg.OverheadPct),
		rounding:         mode,
		roundThreshold:   decimal.NewFromFloat(cfg.RoundThreshold),
		targetSchema:     cfg.TargetSchema,
		allowRemoteWrite: cfg.AllowRemoteWrite,
	}, nil
}

// Reconcile runs the full state machine for one parsed invoice. Per-line
// failures are counted and skipped; header, payment and safety-gate
// failures abort with nothing persisted.
func (r *Reconciler) Reconcile(ctx context.Context, header invoice.Header, lines []invoice.Line, opts Options) (Result, error) {
	result := Result{
		RunID:  uuid.New(),
		Status: StatusError,
		Stats:  newStats(),
	}

	if r.runs != nil {
		if err := r.runs.Create(ctx, result.RunID, opts.SourceFile, header.SupplierName); err != nil {
			return result, err
		}
	}

	err := r.reconcile(ctx, header, lines, opts, &result)
	r.finishRun(ctx, &result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, header invoice.Header, lines []invoice.Line, opts Options, result *Result) error {
	if strings.TrimSpace(header.InvoiceNumber) == "" {
		return ErrNoHeader
	}
	// The proxy schema cannot allocate ids for header/line/payment rows.
	if r.targetSchema == appconfig.TargetRemoteProxy && !opts.DryRun && !r.allowRemoteWrite {
		return ErrSafetyGate
	}

	run := r.runner.WithTx
	if opts.DryRun {
		run = r.runner.WithTxRollback
	}

	return run(ctx, func(stores Stores) error {
		supplierCode := supplier.NewResolver(stores.Suppliers, r.log).Resolve(ctx, header.SupplierName)

		key := HeaderKey{
			InvoiceNumber: header.InvoiceNumber,
			DocumentType:  r.documentType,
			Warehouse:     r.warehouse,
		}
		existing, err := stores.Docs.FindHeader(ctx, key)
		if err != nil {
			return err
		}

		var docID int64
		var lineCount int
		switch {
		case existing != nil:
			docID = existing.ID
			result.DocumentNumber = existing.Number
			result.Status = StatusReused
			if lineCount, err = stores.Docs.CountLines(ctx, docID); err != nil {
				return err
			}
		default:
			number, err := stores.Docs.NextDocumentNumber(ctx, time.Now().Format("06"))
			if err != nil {
				return err
			}
			docID, err = stores.Docs.InsertHeader(ctx, HeaderRow{
				Number:        number,
				InvoiceNumber: header.InvoiceNumber,
				InvoiceDate:   header.IssueDate,
				DueDate:       header.DueDate,
				SupplierCode:  supplierCode,
				Warehouse:     r.warehouse,
				DocumentType:  r.documentType,
				PeriodID:      r.periodID,
				UserID:        r.userID,
				Note:          buildNote(header),
			})
			if err != nil {
				return err
			}
			result.DocumentNumber = number
			result.Status = StatusCreated
		}

		if err := r.upsertPayment(ctx, stores.Docs, header, result.DocumentNumber); err != nil {
			return err
		}

		if lineCount == 0 && len(lines) > 0 {
			if err := r.insertLines(ctx, stores, docID, lines, opts, result); err != nil {
				return err
			}
		} else if lineCount > 0 {
			r.log.Info("lines already present, skipping insert",
				slog.String("document", result.DocumentNumber),
				slog.Int("lines", lineCount))
		}

		if !opts.DryRun {
			result.DocumentID = &docID
		}
		return nil
	})
}

// upsertPayment records the due date and payable amount non-destructively:
// a new row when none exists, otherwise only blank fields are filled in.
func (r *Reconciler) upsertPayment(ctx context.Context, docs Repository, header invoice.Header, docNumber string) error {
	amount := decimal.Zero
	switch {
	case header.PayableAmount.GreaterThan(decimal.Zero):
		amount = header.PayableAmount
	case header.CashDiscount.GreaterThan(decimal.Zero):
		// older feeds only carried a cash discount; still record something
		// so the invoice shows up in the payment schedule
		amount = header.CashDiscount
	}
	if header.DueDate == nil && !amount.GreaterThan(decimal.Zero) {
		return nil
	}

	exists, err := docs.PaymentExists(ctx, r.documentType, docNumber, r.warehouse)
	if err != nil {
		return err
	}
	if exists {
		return docs.UpdatePaymentMissing(ctx, r.documentType, docNumber, r.warehouse, header.DueDate, amount)
	}
	return docs.InsertPayment(ctx, PaymentRow{
		DocumentType:   r.documentType,
		DocumentNumber: docNumber,
		Warehouse:      r.warehouse,
		Amount:         amount,
		DueDate:        header.DueDate,
		DocumentDate:   header.IssueDate,
		InvoiceNumber:  header.InvoiceNumber,
		PeriodID:       r.periodID,
	})
}

func (r *Reconciler) insertLines(ctx context.Context, stores Stores, docID int64, lines []invoice.Line, opts Options, result *Result) error {
	resolver := catalog.NewResolver(stores.Catalog, catalog.NewNameNormalizer(), catalog.NewSimilarityScorer(), r.log)
	allowCreate := opts.AllowAutoCreate && !opts.DryRun

	var changes []PriceChange
	for _, line := range lines {
		res, err := resolver.Resolve(ctx, catalog.Query{
			Barcode:      line.Barcode,
			SupplierCode: line.SupplierCode,
			Name:         line.Name,
			VATPct:       line.VATPct,
		}, allowCreate)
		if err != nil {
			r.log.Warn("line resolution failed, skipping",
				slog.String("name", line.Name), slog.Any("error", err))
			result.Stats[string(catalog.TagNotFound)]++
			continue
		}
		if res.Tag == catalog.TagNotFound {
			result.Stats[string(catalog.TagNotFound)]++
			continue
		}
		result.Stats[string(res.Tag)]++

		fresh := pricing.Compute(pricing.Input{
			PurchasePrice:  line.UnitPrice,
			DiscountPct:    line.DiscountPct,
			VATPct:         line.VATPct,
			MarginPct:      r.defaultMarginPct,
			OverheadPct:    r.overheadPct,
			Rounding:       r.rounding,
			RoundThreshold: r.roundThreshold,
		})

		var last *LastPurchase
		if res.Tag != catalog.TagCreated {
			if last, err = stores.Docs.LastPurchase(ctx, res.Code); err != nil {
				r.log.Warn("last purchase lookup failed, computing fresh",
					slog.String("article", res.Code), slog.Any("error", err))
				last = nil
			}
		}

		decision := r.policy.Decide(res, fresh, line.UnitPrice, line.DiscountPct, line.VATPct, line.Quantity, last)
		if decision.PriceChange != nil {
			changes = append(changes, *decision.PriceChange)
		}
		r.auditDecision(ctx, opts, docID, res.Code, line, fresh, decision, last)

		vatDivisor := decimal.NewFromInt(1).Add(line.VATPct.Div(decimal.NewFromInt(100)))
		if err := stores.Docs.InsertLine(ctx, LineRow{
			HeaderID:      docID,
			ArticleCode:   res.Code,
			Unit:          "KOM",
			Quantity:      line.Quantity,
			PurchasePrice: line.UnitPrice,
			DiscountPct:   line.DiscountPct,
			Overhead:      decimal.Zero,
			MarginPct:     decision.MarginPct,
			PriceExclVAT:  decision.FinalPrice.Div(vatDivisor).Round(4),
			VATPct:        line.VATPct,
			PriceInclVAT:  decision.FinalPrice,
			Batch:         line.Batch,
			Expiry:        line.Expiry,
		}); err != nil {
			return err
		}
		result.LinesInserted++
	}

	for _, pc := range changes {
		result.PriceChanges = append(result.PriceChanges, PriceChangeReport{
			ArticleCode: pc.ArticleCode,
			OldPrice:    pc.OldPrice.StringFixed(2),
			NewPrice:    pc.NewPrice.StringFixed(2),
		})
	}

	if len(changes) > 0 && r.policy.Enabled {
		if err := r.maybeCreateAdjustment(ctx, stores.Docs, changes, opts); err != nil {
			return err
		}
	}
	return nil
}

// auditDecision writes the preservation outcome to the local audit store.
// Audit failures are logged, never fatal: the document import must not
// sink on a local bookkeeping hiccup.
func (r *Reconciler) auditDecision(ctx context.Context, opts Options, docID int64, code string, line invoice.Line, fresh pricing.Breakdown, decision Decision, last *LastPurchase) {
	if opts.DryRun || r.audit == nil {
		return
	}
	if decision.Action != ActionPreserved && decision.Action != ActionRecalcChanged {
		return
	}
	rec := AuditRecord{
		DocumentID:  &docID,
		ArticleCode: code,
		ComputedMP:  fresh.Rounded,
		FinalMP:     decision.FinalPrice,
		NewNet:      line.UnitPrice,
		DiscountPct: line.DiscountPct,
		VATPct:      line.VATPct,
		MarginUsed:  decision.MarginPct,
		Action:      decision.Action,
	}
	if last != nil {
		rec.LastNet = last.PurchasePrice
	}
	if err := r.audit.RecordPriceDecision(ctx, rec); err != nil {
		r.log.Error("audit write failed", slog.Any("error", err))
	}
}

// maybeCreateAdjustment emits a price-level adjustment document for the
// collected price changes. Forced off for dry runs and for the remote
// proxy target; the production store only ever gets a manual adjustment.
func (r *Reconciler) maybeCreateAdjustment(ctx context.Context, docs Repository, changes []PriceChange, opts Options) error {
	if opts.DryRun || !opts.AutoNivelizacija || r.targetSchema == appconfig.TargetRemoteProxy {
		return nil
	}
	number, err := docs.NextAdjustmentNumber(ctx, time.Now().Format("06"))
	if err != nil {
		return err
	}
	adjID, err := docs.InsertAdjustmentHeader(ctx, number, r.warehouse, r.periodID, r.userID)
	if err != nil {
		return err
	}
	for _, pc := range changes {
		vat, err := docs.ArticleVATPct(ctx, pc.ArticleCode)
		if err != nil {
			return err
		}
		if err := docs.InsertAdjustmentLine(ctx, adjID, pc, vat); err != nil {
			return err
		}
	}
	r.log.Info("price adjustment document created",
		slog.String("number", number), slog.Int("lines", len(changes)))
	return nil
}

func (r *Reconciler) finishRun(ctx context.Context, result *Result, runErr error) {
	if r.runs == nil {
		return
	}
	status := RunDone
	errText := ""
	if runErr != nil {
		status = RunFailed
		errText = runErr.Error()
		result.Status = StatusError
	}
	stats, _ := json.Marshal(result.Stats)
	if err := r.runs.Finish(ctx, result.RunID, status, stats, errText); err != nil {
		r.log.Error("import run bookkeeping failed", slog.Any("error", err))
	}
}

func newStats() map[string]int {
	return map[string]int{
		string(catalog.TagFound):         0,
		string(catalog.TagCreated):       0,
		string(catalog.TagBarcodeAdded):  0,
		string(catalog.TagSifraFallback): 0,
		string(catalog.TagNotFound):      0,
	}
}

// buildNote compacts the payment terms into the header note the way the
// back office expects to read them.
func buildNote(h invoice.Header) string {
	var parts []string
	if h.CashDiscount.GreaterThan(decimal.Zero) {
		parts = append(parts, fmt.Sprintf("CASH_DISC=%s", h.CashDiscount.StringFixed(2)))
	}
	if h.PayableAmount.GreaterThan(decimal.Zero) {
		parts = append(parts, fmt.Sprintf("PAYABLE=%s", h.PayableAmount.StringFixed(2)))
	}
	if h.DueDate != nil {
		parts = append(parts, "PAYABLE_UNTIL="+h.DueDate.Format("2006-01-02"))
	}
	return strings.Join(parts, " | ")
}
