package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellonapharm/smart/internal/appconfig"
	"github.com/wellonapharm/smart/internal/catalog"
	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/pricing"
)

// ---- in-memory stores ----

type storedHeader struct {
	HeaderRow
	ID int64
}

type memoryDocs struct {
	headers     []storedHeader
	lines       []LineRow
	lineIDs     []int64
	payments    []PaymentRow
	adjustments int
	adjLines    int
	nextLineID  int64
}

func newMemoryDocs() *memoryDocs { return &memoryDocs{} }

func (m *memoryDocs) FindHeader(_ context.Context, key HeaderKey) (*HeaderRef, error) {
	for i := len(m.headers) - 1; i >= 0; i-- {
		h := m.headers[i]
		if h.DocumentType == key.DocumentType && h.InvoiceNumber == key.InvoiceNumber && h.Warehouse == key.Warehouse {
			return &HeaderRef{ID: h.ID, Number: h.Number}, nil
		}
	}
	return nil, nil
}

func (m *memoryDocs) CountLines(_ context.Context, headerID int64) (int, error) {
	n := 0
	for _, l := range m.lines {
		if l.HeaderID == headerID {
			n++
		}
	}
	return n, nil
}

func (m *memoryDocs) NextDocumentNumber(_ context.Context, yearSuffix string) (string, error) {
	max := 0
	for _, h := range m.headers {
		var n int
		var yy string
		if _, err := fmt.Sscanf(h.Number, "%d/%s", &n, &yy); err == nil && yy == yearSuffix && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%d/%s", max+1, yearSuffix), nil
}

func (m *memoryDocs) InsertHeader(_ context.Context, h HeaderRow) (int64, error) {
	id := int64(len(m.headers) + 1)
	m.headers = append(m.headers, storedHeader{HeaderRow: h, ID: id})
	return id, nil
}

func (m *memoryDocs) PaymentExists(_ context.Context, docType, docNumber, warehouse string) (bool, error) {
	for _, p := range m.payments {
		if p.DocumentType == docType && p.DocumentNumber == docNumber && p.Warehouse == warehouse {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryDocs) InsertPayment(_ context.Context, p PaymentRow) error {
	m.payments = append(m.payments, p)
	return nil
}

func (m *memoryDocs) UpdatePaymentMissing(_ context.Context, docType, docNumber, warehouse string, dueDate *time.Time, amount decimal.Decimal) error {
	for i := range m.payments {
		p := &m.payments[i]
		if p.DocumentType != docType || p.DocumentNumber != docNumber || p.Warehouse != warehouse {
			continue
		}
		if p.DueDate == nil {
			p.DueDate = dueDate
		}
		if p.Amount.IsZero() && amount.GreaterThan(decimal.Zero) {
			p.Amount = amount
		}
	}
	return nil
}

func (m *memoryDocs) InsertLine(_ context.Context, l LineRow) error {
	m.nextLineID++
	m.lines = append(m.lines, l)
	m.lineIDs = append(m.lineIDs, m.nextLineID)
	return nil
}

func (m *memoryDocs) LastPurchase(_ context.Context, articleCode string) (*LastPurchase, error) {
	for i := len(m.lines) - 1; i >= 0; i-- {
		l := m.lines[i]
		if l.ArticleCode == articleCode && l.MarginPct.GreaterThan(decimal.Zero) {
			p := l.PurchasePrice
			return &LastPurchase{MarginPct: l.MarginPct, ConsumerPrice: l.PriceInclVAT, PurchasePrice: &p}, nil
		}
	}
	return nil, nil
}

func (m *memoryDocs) NextAdjustmentNumber(_ context.Context, yearSuffix string) (string, error) {
	return fmt.Sprintf("%d/%s", m.adjustments+1, yearSuffix), nil
}

func (m *memoryDocs) InsertAdjustmentHeader(context.Context, string, string, int, int) (int64, error) {
	m.adjustments++
	return int64(m.adjustments), nil
}

func (m *memoryDocs) InsertAdjustmentLine(context.Context, int64, PriceChange, decimal.Decimal) error {
	m.adjLines++
	return nil
}

func (m *memoryDocs) ArticleVATPct(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10), nil
}

type memoryArticles struct {
	articles map[string]catalog.Article
	aliases  map[string]string
	next     int64
}

func newMemoryArticles() *memoryArticles {
	return &memoryArticles{
		articles: make(map[string]catalog.Article),
		aliases:  make(map[string]string),
		next:     2_300_000_000,
	}
}

func (m *memoryArticles) FindByBarcode(_ context.Context, barcode string) (*catalog.Article, error) {
	for _, a := range m.articles {
		if a.Barcode == barcode {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryArticles) FindByStrippedBarcode(_ context.Context, stripped string) (*catalog.Article, error) {
	for _, a := range m.articles {
		if strings.TrimLeft(a.Barcode, "0") == stripped {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryArticles) FindByAlias(_ context.Context, barcode string) (*catalog.Article, error) {
	if code, ok := m.aliases[barcode]; ok {
		a := m.articles[code]
		return &a, nil
	}
	return nil, nil
}

func (m *memoryArticles) FindByCode(_ context.Context, code string) (*catalog.Article, error) {
	if a, ok := m.articles[code]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *memoryArticles) SearchByNamePrefix(_ context.Context, prefix string, limit int) ([]catalog.Article, error) {
	var out []catalog.Article
	for _, a := range m.articles {
		if strings.Contains(strings.ToUpper(a.Name), prefix) && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryArticles) NextCode(context.Context) (string, error) {
	m.next++
	return fmt.Sprintf("%d", m.next), nil
}

func (m *memoryArticles) Insert(_ context.Context, a catalog.Article) error {
	m.articles[a.Code] = a
	return nil
}

func (m *memoryArticles) AddAlias(_ context.Context, code, barcode string) error {
	m.aliases[barcode] = code
	return nil
}

func (m *memoryArticles) LastMarginPct(context.Context, string) (*decimal.Decimal, error) {
	return nil, nil
}

type memorySuppliers struct {
	byName map[string]string
}

func (m *memorySuppliers) FindByNormalizedName(_ context.Context, normalized string) (string, error) {
	if code, ok := m.byName[normalized]; ok {
		return code, nil
	}
	return "", nil
}

func (m *memorySuppliers) FindByNameLike(_ context.Context, fragment string) (string, error) {
	for name, code := range m.byName {
		if strings.Contains(name, fragment) {
			return code, nil
		}
	}
	return "", nil
}

type memoryRunner struct {
	stores     Stores
	committed  int
	rolledBack int
}

func (r *memoryRunner) WithTx(_ context.Context, fn func(Stores) error) error {
	if err := fn(r.stores); err != nil {
		return err
	}
	r.committed++
	return nil
}

// WithTxRollback runs against throwaway copies so nothing survives, the
// same way a rolled-back transaction behaves.
func (r *memoryRunner) WithTxRollback(_ context.Context, fn func(Stores) error) error {
	docs := *(r.stores.Docs.(*memoryDocs))
	docsCopy := docs
	arts := r.stores.Catalog.(*memoryArticles)
	artsCopy := newMemoryArticles()
	for k, v := range arts.articles {
		artsCopy.articles[k] = v
	}
	for k, v := range arts.aliases {
		artsCopy.aliases[k] = v
	}
	artsCopy.next = arts.next
	r.rolledBack++
	return fn(Stores{Docs: &docsCopy, Catalog: artsCopy, Suppliers: r.stores.Suppliers})
}

type memoryAudit struct {
	records []AuditRecord
}

func (m *memoryAudit) RecordPriceDecision(_ context.Context, rec AuditRecord) error {
	m.records = append(m.records, rec)
	return nil
}

// ---- fixtures ----

func testReconciler(docs *memoryDocs, arts *memoryArticles, audit *memoryAudit, preserve bool) (*Reconciler, *memoryRunner) {
	runner := &memoryRunner{stores: Stores{
		Docs:    docs,
		Catalog: arts,
		Suppliers: &memorySuppliers{byName: map[string]string{
			"SOPHARMA TRADING": "15",
		}},
	}}
	var auditor PriceAuditor
	if audit != nil {
		auditor = audit
	}
	return &Reconciler{
		runner: runner,
		audit:  auditor,
		policy: PricePolicy{Enabled: preserve, Tolerance: decimal.NewFromFloat(0.01)},
		log:    slog.Default(),

		warehouse:        "101",
		documentType:     "20",
		periodID:         4,
		userID:           14,
		defaultMarginPct: decimal.NewFromInt(18),
		rounding:         pricing.ModeNone,
		targetSchema:     appconfig.TargetLocal,
	}, runner
}

func testInvoice() (invoice.Header, []invoice.Line) {
	issue := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	due := issue.AddDate(0, 1, 0)
	header := invoice.Header{
		InvoiceNumber: "2024-001234",
		IssueDate:     &issue,
		DueDate:       &due,
		SupplierName:  "SOPHARMA TRADING D.O.O.",
		PayableAmount: decimal.NewFromInt(1500),
	}
	lines := []invoice.Line{
		{
			Barcode:     "3800010641234",
			Name:        "ANALGIN 500MG TABLET A20",
			Quantity:    decimal.NewFromInt(10),
			UnitPrice:   decimal.NewFromInt(100),
			DiscountPct: decimal.NewFromInt(10),
			VATPct:      decimal.NewFromInt(10),
		},
		{
			Barcode:   "8606103459817",
			Name:      "PROBIOTIK CAPSULES A30",
			Quantity:  decimal.NewFromInt(5),
			UnitPrice: decimal.NewFromInt(50),
			VATPct:    decimal.NewFromInt(20),
		},
	}
	return header, lines
}

func seedArticles(arts *memoryArticles) {
	arts.articles["100"] = catalog.Article{Code: "100", Name: "ANALGIN 500MG TABLET A20", Barcode: "3800010641234"}
	arts.articles["200"] = catalog.Article{Code: "200", Name: "PROBIOTIK CAPSULES A30", Barcode: "8606103459817"}
}

// ---- tests ----

func TestReconcileCreatesDocument(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, runner := testReconciler(docs, arts, nil, false)

	header, lines := testInvoice()
	result, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)

	require.Equal(t, StatusCreated, result.Status)
	require.Equal(t, "1/"+time.Now().Format("06"), result.DocumentNumber)
	require.NotNil(t, result.DocumentID)
	require.Equal(t, 2, result.LinesInserted)
	require.Equal(t, 2, result.Stats["FOUND"])
	require.Equal(t, 1, runner.committed)

	require.Len(t, docs.headers, 1)
	require.Equal(t, "15", docs.headers[0].SupplierCode)
	require.Len(t, docs.payments, 1)
	require.Equal(t, "1500", docs.payments[0].Amount.StringFixed(0))
}

func TestReconcileIdempotent(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, _ := testReconciler(docs, arts, nil, false)

	header, lines := testInvoice()
	first, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, first.Status)

	second, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusReused, second.Status)
	require.Zero(t, second.LinesInserted)

	require.Len(t, docs.headers, 1)
	require.Len(t, docs.lines, 2)
	require.Len(t, docs.payments, 1)
}

func TestReconcileDryRunPersistsNothing(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, runner := testReconciler(docs, arts, nil, false)

	header, lines := testInvoice()
	result, err := r.Reconcile(context.Background(), header, lines, Options{DryRun: true})
	require.NoError(t, err)

	require.Equal(t, StatusCreated, result.Status)
	require.Nil(t, result.DocumentID)
	require.Equal(t, 2, result.LinesInserted)
	require.Equal(t, 1, runner.rolledBack)
	require.Zero(t, runner.committed)
	require.Empty(t, docs.headers)
	require.Empty(t, docs.lines)
}

func TestReconcileSafetyGate(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	r, runner := testReconciler(docs, arts, nil, false)
	r.targetSchema = appconfig.TargetRemoteProxy

	header, lines := testInvoice()
	_, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.ErrorIs(t, err, ErrSafetyGate)
	require.Zero(t, runner.committed)
	require.Empty(t, docs.headers)

	// dry runs through the proxy are read-only and stay allowed
	_, err = r.Reconcile(context.Background(), header, lines, Options{DryRun: true})
	require.NoError(t, err)

	// the explicit opt-in unlocks direct writes
	r.allowRemoteWrite = true
	_, err = r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
}

func TestReconcilePreservesStablePrice(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	audit := &memoryAudit{}
	r, _ := testReconciler(docs, arts, audit, true)

	header, lines := testInvoice()
	first, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	require.Equal(t, 2, first.LinesInserted)
	firstPrice := docs.lines[0].PriceInclVAT

	// same purchase prices, different invoice: consumer price must not move
	header.InvoiceNumber = "2024-001300"
	second, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, second.Status)
	require.Empty(t, second.PriceChanges)
	require.True(t, docs.lines[2].PriceInclVAT.Equal(firstPrice))

	preserved := 0
	for _, rec := range audit.records {
		if rec.Action == ActionPreserved {
			preserved++
		}
	}
	require.Equal(t, 2, preserved)
}

func TestReconcileRecalculatesOnPurchaseChange(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	audit := &memoryAudit{}
	r, _ := testReconciler(docs, arts, audit, true)

	header, lines := testInvoice()
	_, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	oldPrice := docs.lines[0].PriceInclVAT

	header.InvoiceNumber = "2024-001300"
	lines[0].UnitPrice = lines[0].UnitPrice.Add(decimal.NewFromInt(1)) // beyond tolerance
	second, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)

	require.Len(t, second.PriceChanges, 1)
	require.Equal(t, "100", second.PriceChanges[0].ArticleCode)
	require.Equal(t, oldPrice.StringFixed(2), second.PriceChanges[0].OldPrice)

	recalcs := 0
	for _, rec := range audit.records {
		if rec.Action == ActionRecalcChanged {
			recalcs++
		}
	}
	require.Equal(t, 1, recalcs)
}

func TestReconcileAutoAdjustmentDocument(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, _ := testReconciler(docs, arts, &memoryAudit{}, true)

	header, lines := testInvoice()
	_, err := r.Reconcile(context.Background(), header, lines, Options{AutoNivelizacija: true})
	require.NoError(t, err)
	require.Zero(t, docs.adjustments) // first import: nothing changed yet

	header.InvoiceNumber = "2024-001300"
	lines[0].UnitPrice = lines[0].UnitPrice.Add(decimal.NewFromInt(2))
	_, err = r.Reconcile(context.Background(), header, lines, Options{AutoNivelizacija: true})
	require.NoError(t, err)
	require.Equal(t, 1, docs.adjustments)
	require.Equal(t, 1, docs.adjLines)
}

func TestReconcileSkipsUnresolvableLines(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, _ := testReconciler(docs, arts, nil, false)

	header, lines := testInvoice()
	lines = append(lines, invoice.Line{
		Barcode:   "0000000000000",
		Name:      "X",
		UnitPrice: decimal.NewFromInt(5),
		VATPct:    decimal.NewFromInt(10),
	})

	result, err := r.Reconcile(context.Background(), header, lines, Options{AllowAutoCreate: false})
	require.NoError(t, err)
	require.Equal(t, 2, result.LinesInserted)
	require.Equal(t, 1, result.Stats["NOT_FOUND"])
}

func TestReconcileRejectsMissingInvoiceNumber(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	r, _ := testReconciler(docs, arts, nil, false)

	_, err := r.Reconcile(context.Background(), invoice.Header{}, nil, Options{})
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestReconcilePaymentUpsertNonDestructive(t *testing.T) {
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, _ := testReconciler(docs, arts, nil, false)

	header, lines := testInvoice()
	header.DueDate = nil
	_, err := r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)
	require.Nil(t, docs.payments[0].DueDate)
	amount := docs.payments[0].Amount

	// rerun with a due date: it fills in, the amount stays put
	due := time.Date(2024, 4, 14, 0, 0, 0, 0, time.UTC)
	header.DueDate = &due
	header.PayableAmount = decimal.NewFromInt(999999)
	_, err = r.Reconcile(context.Background(), header, lines, Options{})
	require.NoError(t, err)

	require.Len(t, docs.payments, 1)
	require.NotNil(t, docs.payments[0].DueDate)
	require.True(t, docs.payments[0].Amount.Equal(amount))
}
