// Package invoice parses supplier invoice XML into a normalized header and
// line set. Two dialects are supported: the legacy vendor schema (flat
// unnamespaced tags) and UBL 2.1 as produced by the national e-invoice
// platform. Detection is by tag presence, legacy first.
package invoice

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// ErrParse wraps malformed-XML failures. Missing optional fields never
// produce it; they degrade to defaults.
var ErrParse = errors.New("invoice: parse failed")

// Header is the document-level part of a parsed invoice.
type Header struct {
	InvoiceNumber string
	IssueDate     *time.Time
	SupplierName  string
	TotalNet      decimal.Decimal
	DueDate       *time.Time
	CashDiscount  decimal.Decimal
	PayableAmount decimal.Decimal
	Currency      string
}

// Line is one invoice line, normalized across dialects.
type Line struct {
	SupplierCode string
	Barcode      string
	Name         string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	DiscountPct  decimal.Decimal
	VATPct       decimal.Decimal
	Batch        string
	Expiry       *time.Time
}

// Parser holds per-deployment defaults applied when a field is absent.
type Parser struct {
	DefaultVATPct decimal.Decimal
}

// NewParser returns a parser with the given default VAT percentage.
func NewParser(defaultVATPct decimal.Decimal) *Parser {
	return &Parser{DefaultVATPct: defaultVATPct}
}

// Candidate paths per field, first non-empty text wins. Legacy paths come
// before their UBL equivalents so the legacy dialect takes priority.
var headerPaths = map[string][]string{
	"number":   {"//Dokument/Broj", "//cbc:ID"},
	"date":     {"//Dokument/Datum", "//cbc:IssueDate"},
	"supplier": {"//Dobavljac/Naziv", "//cac:AccountingSupplierParty//cbc:RegistrationName"},
	"totalNet": {"//Vrednosti/NetoFakturna", "//cbc:TaxExclusiveAmount"},
	"dueDate":  {"//Valutacije/Valutacija/Datum", "//cbc:DueDate"},
	"discount": {"//Valutacije/Valutacija/Popust"},
	"payable":  {"//Valutacije/Valutacija/Vrednost", "//cac:LegalMonetaryTotal/cbc:PayableAmount"},
	"currency": {"//Dokument/Valuta", "//cbc:DocumentCurrencyCode"},
}

var legacyLinePaths = []string{"//Stavke/Stavka", "//Stavka"}

const ublLinePath = "//cac:InvoiceLine"

// Parse reads and parses an invoice file.
func (p *Parser) Parse(path string) (Header, []Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("invoice: read %s: %w", path, err)
	}
	return p.ParseBytes(data)
}

// ParseBytes parses invoice XML from memory.
func (p *Parser) ParseBytes(data []byte) (Header, []Line, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if doc.Root() == nil {
		return Header{}, nil, fmt.Errorf("%w: empty document", ErrParse)
	}

	header := Header{
		InvoiceNumber: findFirst(doc, headerPaths["number"]),
		IssueDate:     parseDate(findFirst(doc, headerPaths["date"])),
		SupplierName:  findFirst(doc, headerPaths["supplier"]),
		TotalNet:      parseDecimal(findFirst(doc, headerPaths["totalNet"]), decimal.Zero),
		DueDate:       parseDate(findFirst(doc, headerPaths["dueDate"])),
		CashDiscount:  parseDecimal(findFirst(doc, headerPaths["discount"]), decimal.Zero),
		PayableAmount: parseDecimal(findFirst(doc, headerPaths["payable"]), decimal.Zero),
		Currency:      findFirst(doc, headerPaths["currency"]),
	}
	if header.Currency == "" {
		// UBL feeds that skip DocumentCurrencyCode still tag the totals
		if el := doc.FindElement("//cac:LegalMonetaryTotal/cbc:PayableAmount"); el != nil {
			header.Currency = strings.TrimSpace(el.SelectAttrValue("currencyID", ""))
		}
	}

	for _, path := range legacyLinePaths {
		if els := doc.FindElements(path); len(els) > 0 {
			return header, p.legacyLines(els), nil
		}
	}
	return header, p.ublLines(doc.FindElements(ublLinePath)), nil
}

func (p *Parser) legacyLines(els []*etree.Element) []Line {
	lines := make([]Line, 0, len(els))
	for _, el := range els {
		lines = append(lines, Line{
			SupplierCode: text(el, "Sifra"),
			Barcode:      text(el, "GTIN"),
			Name:         text(el, "Naziv"),
			Quantity:     parseDecimal(text(el, "Kolicina"), decimal.Zero),
			UnitPrice:    parseDecimal(text(el, "CenaFakturna"), decimal.Zero),
			DiscountPct:  parseDecimal(text(el, "RabatProcenat"), decimal.Zero),
			VATPct:       parseDecimal(text(el, "PorezProcenat"), p.DefaultVATPct),
			Batch:        normalizeSentinel(text(el, "BrojSerije")),
			Expiry:       parseDate(text(el, "RokUpotrebe")),
		})
	}
	return lines
}

func (p *Parser) ublLines(els []*etree.Element) []Line {
	lines := make([]Line, 0, len(els))
	for _, el := range els {
		vat := firstText(el,
			"./cac:Item/cac:ClassifiedTaxCategory/cbc:Percent",
			"./cac:TaxTotal/cac:TaxSubtotal/cac:TaxCategory/cbc:Percent",
		)
		lines = append(lines, Line{
			SupplierCode: text(el, "./cac:Item/cac:SellersItemIdentification/cbc:ID"),
			Barcode:      text(el, "./cac:Item/cac:StandardItemIdentification/cbc:ID"),
			Name:         text(el, "./cac:Item/cbc:Name"),
			Quantity:     parseDecimal(text(el, "./cbc:InvoicedQuantity"), decimal.Zero),
			UnitPrice:    parseDecimal(text(el, "./cac:Price/cbc:PriceAmount"), decimal.Zero),
			DiscountPct:  parseDecimal(text(el, "./cac:AllowanceCharge/cbc:MultiplierFactorNumeric"), decimal.Zero),
			VATPct:       parseDecimal(vat, p.DefaultVATPct),
		})
	}
	return lines
}

func findFirst(doc *etree.Document, paths []string) string {
	for _, path := range paths {
		if el := doc.FindElement(path); el != nil {
			if s := strings.TrimSpace(el.Text()); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstText(el *etree.Element, paths ...string) string {
	for _, path := range paths {
		if s := text(el, path); s != "" {
			return s
		}
	}
	return ""
}

func text(el *etree.Element, path string) string {
	if child := el.FindElement(path); child != nil {
		return strings.TrimSpace(child.Text())
	}
	return ""
}

// parseDecimal accepts both '.' and ',' decimal separators. Unparseable
// or empty input yields the fallback.
func parseDecimal(s string, fallback decimal.Decimal) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseDate handles YYYY-MM-DD and the sentinel placeholders the vendor
// feed emits for "no date".
func parseDate(s string) *time.Time {
	s = normalizeSentinel(s)
	if s == "" || s == "0000-00-00" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func normalizeSentinel(s string) string {
	switch strings.TrimSpace(s) {
	case "", "0", "0000", "None":
		return ""
	}
	return strings.TrimSpace(s)
}
