package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/wellonapharm/smart/internal/catalog"
	"github.com/wellonapharm/smart/internal/pricing"
)

// PricePolicy decides whether an article keeps its shelf price when a new
// invoice arrives. Shelf prices must not jitter because a discount moved;
// they move only when the purchase price itself moved, and every such
// move is audited.
type PricePolicy struct {
	Enabled   bool
	Tolerance decimal.Decimal
}

// Decision is the policy outcome for one line.
type Decision struct {
	FinalPrice  decimal.Decimal
	MarginPct   decimal.Decimal
	Action      Action
	PriceChange *PriceChange
}

// Decide picks the final consumer price for a resolved line.
//
// Newly created articles always take the fresh computation. For existing
// articles with a recorded prior purchase: a purchase price within
// tolerance of the prior one preserves the old consumer price and
// back-solves the margin; a larger move recomputes and emits a
// PriceChange for the audit trail.
func (p PricePolicy) Decide(res catalog.Resolution, fresh pricing.Breakdown, purchasePrice, discountPct, vatPct, quantity decimal.Decimal, last *LastPurchase) Decision {
	d := Decision{
		FinalPrice: fresh.Rounded,
		MarginPct:  fresh.MarginOnFinalPct,
		Action:     ActionComputed,
	}
	if last != nil && !last.MarginPct.IsZero() {
		d.MarginPct = last.MarginPct
	}

	preservable := res.Tag == catalog.TagFound ||
		res.Tag == catalog.TagBarcodeAdded ||
		res.Tag == catalog.TagSifraFallback
	if !p.Enabled || !preservable || last == nil {
		return d
	}

	changed := last.PurchasePrice == nil ||
		purchasePrice.Sub(*last.PurchasePrice).Abs().GreaterThan(p.Tolerance)
	if changed {
		d.Action = ActionRecalcChanged
		d.FinalPrice = fresh.Rounded
		d.MarginPct = fresh.MarginOnFinalPct
		d.PriceChange = &PriceChange{
			ArticleCode: res.Code,
			OldPrice:    last.ConsumerPrice,
			NewPrice:    fresh.Rounded,
			Quantity:    quantity,
		}
		return d
	}

	d.Action = ActionPreserved
	d.FinalPrice = last.ConsumerPrice
	netPurchase := purchasePrice.Mul(decimal.NewFromInt(1).Sub(discountPct.Div(decimal.NewFromInt(100))))
	if netPurchase.GreaterThan(decimal.Zero) {
		d.MarginPct = pricing.BackSolveMarginPct(last.ConsumerPrice, vatPct, netPurchase)
	}
	return d
}
