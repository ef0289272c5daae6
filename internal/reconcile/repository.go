package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the pgx subset shared by *pgxpool.Pool and pgx.Tx. All document
// writes run on the reconciler's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// HeaderKey is the natural key a supplier invoice maps to.
type HeaderKey struct {
	InvoiceNumber string
	DocumentType  string
	Warehouse     string
}

// HeaderRef identifies an existing document header.
type HeaderRef struct {
	ID     int64
	Number string
}

// HeaderRow is a new document header.
type HeaderRow struct {
	Number        string
	InvoiceNumber string
	InvoiceDate   *time.Time
	DueDate       *time.Time
	SupplierCode  string
	Warehouse     string
	DocumentType  string
	PeriodID      int
	UserID        int
	Note          string
}

// PaymentRow is one payment-schedule entry.
type PaymentRow struct {
	DocumentType   string
	DocumentNumber string
	Warehouse      string
	Amount         decimal.Decimal
	DueDate        *time.Time
	DocumentDate   *time.Time
	InvoiceNumber  string
	PeriodID       int
}

// LineRow is one priced document line.
type LineRow struct {
	HeaderID      int64
	ArticleCode   string
	Unit          string
	Quantity      decimal.Decimal
	PurchasePrice decimal.Decimal
	DiscountPct   decimal.Decimal
	Overhead      decimal.Decimal
	MarginPct     decimal.Decimal
	PriceExclVAT  decimal.Decimal
	VATPct        decimal.Decimal
	PriceInclVAT  decimal.Decimal
	Batch         string
	Expiry        *time.Time
}

// Repository is the document store the reconciler writes through.
type Repository interface {
	FindHeader(ctx context.Context, key HeaderKey) (*HeaderRef, error)
	CountLines(ctx context.Context, headerID int64) (int, error)
	NextDocumentNumber(ctx context.Context, yearSuffix string) (string, error)
	InsertHeader(ctx context.Context, h HeaderRow) (int64, error)
	PaymentExists(ctx context.Context, docType, docNumber, warehouse string) (bool, error)
	InsertPayment(ctx context.Context, p PaymentRow) error
	UpdatePaymentMissing(ctx context.Context, docType, docNumber, warehouse string, dueDate *time.Time, amount decimal.Decimal) error
	InsertLine(ctx context.Context, l LineRow) error
	LastPurchase(ctx context.Context, articleCode string) (*LastPurchase, error)

	NextAdjustmentNumber(ctx context.Context, yearSuffix string) (string, error)
	InsertAdjustmentHeader(ctx context.Context, number, warehouse string, periodID, userID int) (int64, error)
	InsertAdjustmentLine(ctx context.Context, adjustmentID int64, pc PriceChange, vatPct decimal.Decimal) error
	ArticleVATPct(ctx context.Context, articleCode string) (decimal.Decimal, error)
}

type pgRepository struct {
	db DBTX
}

// NewRepository binds a Repository to the given pool or transaction.
func NewRepository(db DBTX) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) FindHeader(ctx context.Context, key HeaderKey) (*HeaderRef, error) {
	var ref HeaderRef
	err := r.db.QueryRow(ctx,
		`SELECT id, document_number FROM invoice_header
		 WHERE document_type = $1 AND external_invoice_number = $2 AND warehouse = $3
		 ORDER BY id DESC LIMIT 1`,
		key.DocumentType, key.InvoiceNumber, key.Warehouse).Scan(&ref.ID, &ref.Number)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: find header: %w", err)
	}
	return &ref, nil
}

func (r *pgRepository) CountLines(ctx context.Context, headerID int64) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM invoice_line WHERE header_id = $1`, headerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("reconcile: count lines: %w", err)
	}
	return n, nil
}

// NextDocumentNumber allocates the next "N/YY" number for the document
// class within the given year.
func (r *pgRepository) NextDocumentNumber(ctx context.Context, yearSuffix string) (string, error) {
	var max *int
	err := r.db.QueryRow(ctx,
		`SELECT MAX(CAST(SPLIT_PART(document_number, '/', 1) AS INTEGER))
		 FROM invoice_header WHERE document_number LIKE '%/' || $1`, yearSuffix).Scan(&max)
	if err != nil {
		return "", fmt.Errorf("reconcile: next document number: %w", err)
	}
	next := 1
	if max != nil {
		next = *max + 1
	}
	return fmt.Sprintf("%d/%s", next, yearSuffix), nil
}

// InsertHeader allocates the id explicitly (max+1) instead of relying on
// a sequence; the foreign-table proxy exposes no sequences at all.
func (r *pgRepository) InsertHeader(ctx context.Context, h HeaderRow) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM invoice_header`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reconcile: next header id: %w", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoice_header
		   (id, document_number, external_invoice_number, invoice_date, due_date,
		    supplier_code, warehouse, document_type, status, period_id, user_id, created_at, note)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),NULLIF($12,''))`,
		id, h.Number, h.InvoiceNumber, h.InvoiceDate, h.DueDate,
		h.SupplierCode, h.Warehouse, h.DocumentType, statusPosted, h.PeriodID, h.UserID, h.Note)
	if err != nil {
		return 0, fmt.Errorf("reconcile: insert header: %w", err)
	}
	return id, nil
}

func (r *pgRepository) PaymentExists(ctx context.Context, docType, docNumber, warehouse string) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx,
		`SELECT 1 FROM payment_schedule
		 WHERE document_type = $1 AND document_number = $2 AND warehouse = $3 LIMIT 1`,
		docType, docNumber, warehouse).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reconcile: payment exists: %w", err)
	}
	return true, nil
}

func (r *pgRepository) InsertPayment(ctx context.Context, p PaymentRow) error {
	var id int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM payment_schedule`).Scan(&id); err != nil {
		return fmt.Errorf("reconcile: next payment id: %w", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO payment_schedule
		   (id, cash_register_date, amount, due_date, document_type, document_number,
		    warehouse, invoice_number, period_id, document_date)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		id, p.DocumentDate, p.Amount, p.DueDate, p.DocumentType, p.DocumentNumber,
		p.Warehouse, p.InvoiceNumber, p.PeriodID, p.DocumentDate)
	if err != nil {
		return fmt.Errorf("reconcile: insert payment: %w", err)
	}
	return nil
}

// UpdatePaymentMissing fills empty due-date/amount fields, never
// overwriting a populated value.
func (r *pgRepository) UpdatePaymentMissing(ctx context.Context, docType, docNumber, warehouse string, dueDate *time.Time, amount decimal.Decimal) error {
	_, err := r.db.Exec(ctx,
		`UPDATE payment_schedule
		 SET due_date = COALESCE(due_date, $1),
		     amount = CASE WHEN COALESCE(amount, 0) = 0 AND $2::numeric > 0 THEN $2 ELSE amount END
		 WHERE document_type = $3 AND document_number = $4 AND warehouse = $5`,
		dueDate, amount, docType, docNumber, warehouse)
	if err != nil {
		return fmt.Errorf("reconcile: update payment: %w", err)
	}
	return nil
}

func (r *pgRepository) InsertLine(ctx context.Context, l LineRow) error {
	var id int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM invoice_line`).Scan(&id); err != nil {
		return fmt.Errorf("reconcile: next line id: %w", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO invoice_line
		   (id, header_id, article_code, unit, quantity, purchase_price, discount_pct,
		    overhead, margin_pct, consumer_price_excl_vat, vat_pct, consumer_price_incl_vat,
		    batch, expiry)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14)`,
		id, l.HeaderID, l.ArticleCode, l.Unit, l.Quantity, l.PurchasePrice, l.DiscountPct,
		l.Overhead, l.MarginPct, l.PriceExclVAT, l.VATPct, l.PriceInclVAT, l.Batch, l.Expiry)
	if err != nil {
		return fmt.Errorf("reconcile: insert line %s: %w", l.ArticleCode, err)
	}
	return nil
}

// LastPurchase reads the most recent line with a positive margin for the
// article: the margin, the consumer price charged, and the purchase price
// it was computed from.
func (r *pgRepository) LastPurchase(ctx context.Context, articleCode string) (*LastPurchase, error) {
	var lp LastPurchase
	var purchase *decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT margin_pct, consumer_price_incl_vat, purchase_price
		 FROM invoice_line
		 WHERE article_code = $1 AND margin_pct IS NOT NULL AND margin_pct > 0
		 ORDER BY id DESC LIMIT 1`, articleCode).Scan(&lp.MarginPct, &lp.ConsumerPrice, &purchase)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: last purchase for %s: %w", articleCode, err)
	}
	lp.PurchasePrice = purchase
	return &lp, nil
}

func (r *pgRepository) NextAdjustmentNumber(ctx context.Context, yearSuffix string) (string, error) {
	var max *int
	err := r.db.QueryRow(ctx,
		`SELECT MAX(CAST(SPLIT_PART(document_number, '/', 1) AS INTEGER))
		 FROM price_adjustment_header WHERE document_number LIKE '%/' || $1`, yearSuffix).Scan(&max)
	if err != nil {
		return "", fmt.Errorf("reconcile: next adjustment number: %w", err)
	}
	next := 1
	if max != nil {
		next = *max + 1
	}
	return fmt.Sprintf("%d/%s", next, yearSuffix), nil
}

func (r *pgRepository) InsertAdjustmentHeader(ctx context.Context, number, warehouse string, periodID, userID int) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM price_adjustment_header`).Scan(&id); err != nil {
		return 0, fmt.Errorf("reconcile: next adjustment id: %w", err)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO price_adjustment_header
		   (id, document_number, warehouse, document_date, status, note, period_id, user_id, created_at)
		 VALUES ($1,$2,$3,now(),$4,$5,$6,$7,now())`,
		id, number, warehouse, statusPosted, "AUTO: purchase price changed on import", periodID, userID)
	if err != nil {
		return 0, fmt.Errorf("reconcile: insert adjustment header: %w", err)
	}
	return id, nil
}

func (r *pgRepository) InsertAdjustmentLine(ctx context.Context, adjustmentID int64, pc PriceChange, vatPct decimal.Decimal) error {
	var id int64
	if err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM price_adjustment_line`).Scan(&id); err != nil {
		return fmt.Errorf("reconcile: next adjustment line id: %w", err)
	}
	divisor := decimal.NewFromInt(1).Add(vatPct.Div(decimal.NewFromInt(100)))
	_, err := r.db.Exec(ctx,
		`INSERT INTO price_adjustment_line
		   (id, header_id, article_code, unit, quantity, old_price_excl_vat, new_price_excl_vat,
		    old_vat_pct, new_vat_pct, old_price_incl_vat, new_price_incl_vat)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, adjustmentID, pc.ArticleCode, "KOM", pc.Quantity,
		pc.OldPrice.Div(divisor).Round(4), pc.NewPrice.Div(divisor).Round(4),
		vatPct, vatPct, pc.OldPrice, pc.NewPrice)
	if err != nil {
		return fmt.Errorf("reconcile: insert adjustment line: %w", err)
	}
	return nil
}

// ArticleVATPct maps an article's VAT class to its percentage for the
// adjustment document.
func (r *pgRepository) ArticleVATPct(ctx context.Context, articleCode string) (decimal.Decimal, error) {
	var class string
	err := r.db.QueryRow(ctx,
		`SELECT vat_class FROM catalog_article WHERE code = $1 LIMIT 1`, articleCode).Scan(&class)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.NewFromInt(10), nil
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reconcile: article vat class: %w", err)
	}
	switch class {
	case "Ð", "PDV20":
		return decimal.NewFromInt(20), nil
	case "Γ":
		return decimal.Zero, nil
	default:
		return decimal.NewFromInt(10), nil
	}
}
