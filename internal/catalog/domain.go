// Package catalog resolves invoice lines against the article master data,
// creating articles and barcode aliases when allowed.
package catalog

import "github.com/shopspring/decimal"

// Article is one master-data row.
type Article struct {
	Code     string
	Name     string
	Unit     string
	Type     string
	VATClass string
	Barcode  string
	Note     string
	PackSize decimal.Decimal
	MinStock decimal.Decimal
	MarginPct decimal.Decimal
}

// Tag classifies how a line was resolved, in descending confidence.
type Tag string

const (
	TagFound         Tag = "FOUND"
	TagBarcodeAdded  Tag = "BARCODE_ADDED"
	TagSifraFallback Tag = "SIFRA_FALLBACK"
	TagCreated       Tag = "CREATED"
	TagNotFound      Tag = "NOT_FOUND"
)

// Query is the slice of an invoice line the resolver needs.
type Query struct {
	Barcode      string
	SupplierCode string
	Name         string
	VATPct       decimal.Decimal
}

// Resolution is the resolver outcome for one line. LastMarginPct carries
// the margin of the article's most recent purchase when one exists.
type Resolution struct {
	Code          string
	Name          string
	Tag           Tag
	LastMarginPct *decimal.Decimal
}

// Base offset for generated article codes. Legacy hand-assigned codes all
// sit below it.
const codeBase = 2_300_000_000

// Auto-create defaults inferred from keyword heuristics on the name.
const (
	unitPiece   = "KOM"
	unitAmpoule = "AMP"
	unitBottle  = "BOC"
	unitTube    = "TUB"

	typeMedicine = "LEK"
	typeGeneric  = "AR"

	vatClassStandard = "Ð" // 20%
	vatClassReduced  = "E" // 10%
	vatClassZero     = "Γ"
)
