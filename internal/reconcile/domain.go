// Package reconcile turns parsed supplier invoices into ERP documents:
// header, priced lines and payment schedule, with idempotent re-runs and
// an audited price-preservation policy.
package reconcile

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrSafetyGate rejects non-dry-run writes through the foreign-table
	// proxy. The proxy cannot allocate identifiers for header, line and
	// payment rows, so a direct connection plus an explicit opt-in flag
	// is required instead.
	ErrSafetyGate = errors.New("reconcile: write through remote proxy blocked")

	// ErrNoHeader means the invoice carried no usable invoice number.
	ErrNoHeader = errors.New("reconcile: invoice number missing")
)

// Document status values, as the ERP expects them.
const statusPosted = "PROKNJIŽEN"

// Price decision actions.
type Action string

const (
	ActionComputed      Action = "COMPUTED"
	ActionPreserved     Action = "PRESERVED"
	ActionRecalcChanged Action = "RECALC_NABAVNA_CHANGED"
)

// Result statuses.
const (
	StatusCreated = "created"
	StatusReused  = "reused"
	StatusError   = "error"
)

// Options carries the per-run switches of one reconcile call.
type Options struct {
	DryRun           bool
	AllowAutoCreate  bool
	AutoNivelizacija bool
	SourceFile       string
}

// PriceChange is one audited consumer-price move caused by a purchase
// price change.
type PriceChange struct {
	ArticleCode string
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	Quantity    decimal.Decimal
}

// AuditRecord is the full context of one preservation decision, written
// to the local audit store.
type AuditRecord struct {
	DocumentID  *int64
	ArticleCode string
	ComputedMP  decimal.Decimal
	FinalMP     decimal.Decimal
	LastNet     *decimal.Decimal
	NewNet      decimal.Decimal
	DiscountPct decimal.Decimal
	VATPct      decimal.Decimal
	MarginUsed  decimal.Decimal
	Action      Action
}

// LastPurchase is what the policy knows about an article's previous buy.
type LastPurchase struct {
	MarginPct     decimal.Decimal
	ConsumerPrice decimal.Decimal // gross, VAT included
	PurchasePrice *decimal.Decimal
}

// Result is returned to HTTP and CLI callers.
type Result struct {
	RunID          uuid.UUID           `json:"run_id"`
	DocumentID     *int64              `json:"document_id"`
	DocumentNumber string              `json:"document_number"`
	Status         string              `json:"status"`
	LinesInserted  int                 `json:"lines_inserted"`
	Stats          map[string]int      `json:"resolution_stats"`
	PriceChanges   []PriceChangeReport `json:"price_changes,omitempty"`
}

// PriceChangeReport is the caller-facing shape of a PriceChange.
type PriceChangeReport struct {
	ArticleCode string `json:"article_code"`
	OldPrice    string `json:"old_price"`
	NewPrice    string `json:"new_price"`
}

// ImportRun is the bookkeeping row kept per reconcile invocation.
type ImportRun struct {
	ID         uuid.UUID  `json:"id"`
	SourceFile string     `json:"source_file"`
	Supplier   string     `json:"supplier"`
	Status     string     `json:"status"`
	Stats      []byte     `json:"stats,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
