package ordering

import "math"

// TargetMode selects which demand figure drives the replenishment target.
type TargetMode string

const (
	// ModeIzlaz targets last period's outgoing quantity.
	ModeIzlaz TargetMode = "izlaz"
	// ModeMesMuj targets the monthly moving average.
	ModeMesMuj TargetMode = "mes_muj"
	// ModeMax targets whichever of the two is larger. Unknown modes
	// fall back here.
	ModeMax TargetMode = "max"
)

// PolicyInput holds one article's replenishment figures.
type PolicyInput struct {
	Stock      float64 // current on-hand quantity
	Inflow     float64 // quantity already on order, counted only when IgnoreInflow is off
	MonthlyAvg float64 // mes_muj: monthly moving average demand
	Outgoing   float64 // izlaz: last period outgoing quantity
	MinStock   float64 // shelf minimum, floors the target
	MOQ        int     // supplier minimum order quantity
}

// PolicyOptions tune the quantity calculation.
type PolicyOptions struct {
	TargetMode   TargetMode
	IgnoreInflow bool // treat in-transit stock as unavailable
	RoundTo5     bool // round quantities >= 10 up to a multiple of 5
}

// DefaultPolicyOptions matches the back-office ordering defaults: target
// on outgoing, pending orders ignored, five-piece rounding on.
func DefaultPolicyOptions() PolicyOptions {
	return PolicyOptions{TargetMode: ModeIzlaz, IgnoreInflow: true, RoundTo5: true}
}

// PolicyResult is the computed order for one article.
type PolicyResult struct {
	TargetStock float64
	Available   float64
	Need        float64
	Quantity    int
}

func pickTarget(in PolicyInput, mode TargetMode) float64 {
	switch mode {
	case ModeIzlaz:
		return in.Outgoing
	case ModeMesMuj:
		return in.MonthlyAvg
	default:
		return math.Max(in.MonthlyAvg, in.Outgoing)
	}
}

// ComputeOrderQty derives the order quantity for one article.
//
// target = mode-picked demand, floored by the shelf minimum;
// available = on-hand (negative stock counts as zero), plus inflow when
// it is not ignored; need = target - available clamped at zero. The
// final quantity is need rounded up, then raised to the MOQ, then
// rounded up to a multiple of five when it reaches ten.
func ComputeOrderQty(in PolicyInput, opts PolicyOptions) PolicyResult {
	target := math.Max(pickTarget(in, opts.TargetMode), in.MinStock)
	available := math.Max(in.Stock, 0)
	if !opts.IgnoreInflow {
		available += in.Inflow
	}
	need := math.Max(target-available, 0)

	qty := int(math.Ceil(need))
	if in.MOQ > 0 && qty > 0 && qty < in.MOQ {
		qty = in.MOQ
	}
	if opts.RoundTo5 && qty >= 10 && qty%5 != 0 {
		qty = (qty/5 + 1) * 5
	}

	return PolicyResult{TargetStock: target, Available: available, Need: need, Quantity: qty}
}
