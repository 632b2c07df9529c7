package execution

import (
	"context"
	"fmt"
	"time"

	"funding_arb/internal/core"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// DefaultFillTolerance is the imbalance ratio above which a makeup order is
// emitted: |primary - hedge| / avg > 2%.
var DefaultFillTolerance = decimal.NewFromFloat(0.02)

// FillReconciliation is the verdict of comparing both legs' fills against
// the intended sizes.
type FillReconciliation struct {
	PrimaryFilled decimal.Decimal
	HedgeFilled   decimal.Decimal
	Imbalance     decimal.Decimal

	NeedsCorrection bool
	Target          Leg
	Side            core.Side
	Size            decimal.Decimal
	ReduceOnly      bool
}

// CheckFills compares actual fills against the intent. The under-filled leg
// receives a makeup on its original side; a leg filled beyond its intended
// size receives a reduce-only makeup on the opposite side instead.
func CheckFills(primaryReq, hedgeReq core.OrderRequest, primaryRes, hedgeRes core.OrderResult, tolerance decimal.Decimal) FillReconciliation {
	rec := FillReconciliation{
		PrimaryFilled: primaryRes.FilledSize,
		HedgeFilled:   hedgeRes.FilledSize,
	}

	rec.Imbalance = rec.PrimaryFilled.Sub(rec.HedgeFilled).Abs()
	avg := rec.PrimaryFilled.Add(rec.HedgeFilled).Div(two)

	if !avg.IsPositive() || rec.Imbalance.Div(avg).LessThanOrEqual(tolerance) {
		return rec
	}

	rec.NeedsCorrection = true
	rec.Size = rec.Imbalance

	if rec.PrimaryFilled.GreaterThan(rec.HedgeFilled) {
		if rec.HedgeFilled.LessThan(hedgeReq.Size) {
			rec.Target = LegHedge
			rec.Side = hedgeReq.Side
		} else {
			// Primary exceeded its intended size; unwind the excess
			rec.Target = LegPrimary
			rec.Side = primaryReq.Side.Opposite()
			rec.ReduceOnly = true
		}
	} else {
		if rec.PrimaryFilled.LessThan(primaryReq.Size) {
			rec.Target = LegPrimary
			rec.Side = primaryReq.Side
		} else {
			rec.Target = LegHedge
			rec.Side = hedgeReq.Side.Opposite()
			rec.ReduceOnly = true
		}
	}

	return rec
}

// IsBalanced reports whether the fills sit within tolerance
func (r FillReconciliation) IsBalanced() bool {
	return !r.NeedsCorrection
}

// ApplyCorrection places the makeup order on the target venue as an IOC
// market order. The caller treats failure as non-fatal but records it.
func ApplyCorrection(ctx context.Context, symbol string, rec FillReconciliation, primary, hedge core.IVenue) (core.OrderResult, error) {
	if !rec.NeedsCorrection {
		return core.OrderResult{}, fmt.Errorf("no correction needed for %s", symbol)
	}

	venue := primary
	if rec.Target == LegHedge {
		venue = hedge
	}

	order := core.OrderRequest{
		ClientID:    fmt.Sprintf("correction:%s:%s:%d", rec.Target, symbol, time.Now().Unix()),
		Symbol:      symbol,
		Side:        rec.Side,
		Size:        rec.Size,
		Type:        core.OrderTypeMarket,
		ReduceOnly:  rec.ReduceOnly,
		TimeInForce: core.TimeInForceIOC,
	}

	result, err := venue.PlaceOrder(ctx, order)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("makeup order on %s leg: %w", rec.Target, err)
	}

	telemetry.GetGlobalMetrics().MakeupsTotal.Add(ctx, 1)
	return result, nil
}
