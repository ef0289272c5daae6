// Package pricing implements the retail price calculation used when a
// purchase invoice line is turned into a priced document line.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode selects the rounding strategy applied to the final gross price.
type Mode string

const (
	ModeNone      Mode = "NONE"
	ModeEnd9      Mode = "END_9"
	ModeEnd99     Mode = "END_99"
	ModeNearest5  Mode = "NEAREST_5"
	ModeNearest10 Mode = "NEAREST_10"
)

// ParseMode validates a rounding mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeEnd9, ModeEnd99, ModeNearest5, ModeNearest10:
		return Mode(s), nil
	}
	return "", fmt.Errorf("pricing: unknown rounding mode %q", s)
}

// Input carries everything the calculator needs for one line.
type Input struct {
	PurchasePrice decimal.Decimal // net purchase price, before discount
	DiscountPct   decimal.Decimal
	VATPct        decimal.Decimal
	MarginPct     decimal.Decimal
	OverheadPct   decimal.Decimal // percentage overhead on the discounted base
	ExtraCostAbs  decimal.Decimal // absolute surcharge (excise etc.)

	Rounding       Mode
	RoundThreshold decimal.Decimal // rounding applies only at or above this gross price
}

// Breakdown is the full price decomposition for one line. PriceInclVAT is
// the unrounded gross price; Rounded is what goes on the shelf.
type Breakdown struct {
	Base                 decimal.Decimal // purchase price after discount
	OverheadAmount       decimal.Decimal
	BaseWithOverhead     decimal.Decimal
	MarginAmount         decimal.Decimal
	PriceExclVAT         decimal.Decimal
	VATAmount            decimal.Decimal
	PriceInclVAT         decimal.Decimal
	Rounded              decimal.Decimal
	EffectiveDiscountPct decimal.Decimal
	MarginOnFinalPct     decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func pct(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// Compute runs the six-step formula chain and the configured rounding
// strategy. Pure arithmetic: negative and zero prices flow through
// unvalidated, the caller decides what is acceptable.
func Compute(in Input) Breakdown {
	base := in.PurchasePrice.Mul(decimal.NewFromInt(1).Sub(pct(in.DiscountPct)))
	overhead := base.Mul(pct(in.OverheadPct)).Add(in.ExtraCostAbs)
	basePlus := base.Add(overhead)
	marginAmount := basePlus.Mul(pct(in.MarginPct))
	exclVAT := basePlus.Add(marginAmount)
	vatAmount := exclVAT.Mul(pct(in.VATPct))
	inclVAT := exclVAT.Add(vatAmount)

	effDiscount := decimal.Zero
	if !in.PurchasePrice.IsZero() {
		effDiscount = hundred.Mul(decimal.NewFromInt(1).Sub(base.Div(in.PurchasePrice)))
	}
	marginOnFinal := decimal.Zero
	if !inclVAT.IsZero() {
		marginOnFinal = marginAmount.Div(inclVAT).Mul(hundred)
	}

	return Breakdown{
		Base:                 base.Round(4),
		OverheadAmount:       overhead.Round(4),
		BaseWithOverhead:     basePlus.Round(4),
		MarginAmount:         marginAmount.Round(4),
		PriceExclVAT:         exclVAT.Round(4),
		VATAmount:            vatAmount.Round(4),
		PriceInclVAT:         inclVAT.Round(4),
		Rounded:              applyRounding(inclVAT, in.Rounding, in.RoundThreshold),
		EffectiveDiscountPct: effDiscount.Round(4),
		MarginOnFinalPct:     marginOnFinal.Round(4),
	}
}

// BackSolveMarginPct derives the margin percentage implied by keeping an
// existing gross price over a new net cost base. Used when a preserved
// shelf price must stay coherent with a changed purchase price.
func BackSolveMarginPct(grossPrice, vatPct, netBase decimal.Decimal) decimal.Decimal {
	if netBase.IsZero() {
		return decimal.Zero
	}
	exclVAT := grossPrice.Div(decimal.NewFromInt(1).Add(pct(vatPct)))
	return exclVAT.Sub(netBase).Div(netBase).Mul(hundred).Round(4)
}

// applyRounding implements the shelf-price rounding strategies. End-digit
// modes never round down past the unrounded price: when the naive target
// falls below it, the next whole-unit boundary is used instead.
func applyRounding(v decimal.Decimal, mode Mode, threshold decimal.Decimal) decimal.Decimal {
	if mode == ModeNone || v.LessThan(threshold) {
		return v.Round(2)
	}
	one := decimal.NewFromInt(1)
	switch mode {
	case ModeEnd99:
		target := v.Floor().Add(decimal.NewFromFloat(0.99))
		if target.LessThan(v) {
			target = v.Floor().Add(one).Add(decimal.NewFromFloat(0.99))
		}
		return target.Round(2)
	case ModeEnd9:
		target := v.Floor().Add(decimal.NewFromFloat(0.9))
		if target.LessThan(v) {
			target = v.Floor().Add(one).Add(decimal.NewFromFloat(0.9))
		}
		return target.Round(1)
	case ModeNearest5:
		five := decimal.NewFromInt(5)
		return v.Add(decimal.NewFromFloat(2.5)).Div(five).Floor().Mul(five)
	case ModeNearest10:
		ten := decimal.NewFromInt(10)
		return v.Add(decimal.NewFromInt(5)).Div(ten).Floor().Mul(ten)
	}
	return v.Round(2)
}
