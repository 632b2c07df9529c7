package execution

import (
	"context"
	"fmt"
	"time"

	"funding_arb/internal/core"
	"funding_arb/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// PositionDrift measures residual net exposure between the two venues'
// positions for one symbol.
type PositionDrift struct {
	Symbol        string
	PrimarySigned decimal.Decimal
	HedgeSigned   decimal.Decimal

	DriftQuantity  decimal.Decimal
	DriftBps       decimal.Decimal
	NeedsRebalance bool
}

// RebalanceAction is the corrective order that flattens a drift. The
// correction venue is fixed to the hedge.
type RebalanceAction struct {
	Symbol   string
	Side     core.Side
	Quantity decimal.Decimal
}

// DetectDrift compares both venues' positions for a symbol. Returns nil
// when either side is flat or both are empty; exit handling covers those.
func DetectDrift(symbol string, primaryPos, hedgePos *core.VenuePosition, driftThresholdBps decimal.Decimal) *PositionDrift {
	if primaryPos == nil || hedgePos == nil {
		return nil
	}

	primarySigned := primaryPos.SignedSize()
	hedgeSigned := hedgePos.SignedSize()

	total := primarySigned.Add(hedgeSigned)
	avgSize := primarySigned.Abs().Add(hedgeSigned.Abs()).Div(two)
	if avgSize.IsZero() {
		return nil
	}

	driftBps := total.Abs().Div(avgSize).Mul(tenKay)

	return &PositionDrift{
		Symbol:         symbol,
		PrimarySigned:  primarySigned,
		HedgeSigned:    hedgeSigned,
		DriftQuantity:  total.Abs(),
		DriftBps:       driftBps,
		NeedsRebalance: driftBps.GreaterThanOrEqual(driftThresholdBps),
	}
}

// PlanRebalance plans the hedge-venue order that flattens the drift: net
// long sells, net short buys, always for the full residual quantity.
func PlanRebalance(drift *PositionDrift) RebalanceAction {
	side := core.SideSell
	if drift.PrimarySigned.Add(drift.HedgeSigned).IsNegative() {
		side = core.SideBuy
	}
	return RebalanceAction{
		Symbol:   drift.Symbol,
		Side:     side,
		Quantity: drift.DriftQuantity,
	}
}

// ExecuteRebalance places the corrective order on the hedge venue as an IOC
// limit at the supplied price (hedge mid adjusted for slippage).
func ExecuteRebalance(ctx context.Context, action RebalanceAction, hedge core.IVenue, price decimal.Decimal) (core.OrderResult, error) {
	order := core.OrderRequest{
		ClientID:    fmt.Sprintf("rebalance:hedge:%s:%d", action.Symbol, time.Now().Unix()),
		Symbol:      action.Symbol,
		Side:        action.Side,
		Size:        action.Quantity,
		Type:        core.OrderTypeLimit,
		Price:       price,
		TimeInForce: core.TimeInForceIOC,
	}

	result, err := hedge.PlaceOrder(ctx, order)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("rebalance order for %s: %w", action.Symbol, err)
	}

	telemetry.GetGlobalMetrics().RebalancesTotal.Add(ctx, 1)
	return result, nil
}
