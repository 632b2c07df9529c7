package execution

import (
	"context"
	"fmt"

	"funding_arb/internal/config"
	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

// MarginHealth is a margin utilization snapshot for one venue
type MarginHealth struct {
	Venue           string
	TotalMarginUsed decimal.Decimal
	AccountValue    decimal.Decimal
	Utilization     decimal.Decimal
	IsHealthy       bool
	LiquidationRisk bool
}

// RiskCheckResult is the pre-trade gate verdict
type RiskCheckResult struct {
	Approved bool
	Reason   string
}

// RiskGate validates notional caps against live venue positions before any
// entry intent is dispatched.
type RiskGate struct {
	primary core.IVenue
	hedge   core.IVenue
	limits  config.RiskLimits
}

// NewRiskGate creates a pre-trade risk gate
func NewRiskGate(primary, hedge core.IVenue, limits config.RiskLimits) *RiskGate {
	return &RiskGate{primary: primary, hedge: hedge, limits: limits}
}

// CheckEntry validates the total and per-symbol notional caps for a
// prospective entry of notionalUSD on the given symbol.
func (g *RiskGate) CheckEntry(ctx context.Context, symbol string, notionalUSD decimal.Decimal) RiskCheckResult {
	primaryPositions, err := g.primary.GetPositions(ctx)
	if err != nil {
		return RiskCheckResult{Approved: false, Reason: fmt.Sprintf("failed to fetch primary positions: %v", err)}
	}
	hedgePositions, err := g.hedge.GetPositions(ctx)
	if err != nil {
		return RiskCheckResult{Approved: false, Reason: fmt.Sprintf("failed to fetch hedge positions: %v", err)}
	}

	totalNotional := decimal.Zero
	symbolNotional := decimal.Zero
	for _, positions := range [][]core.VenuePosition{primaryPositions, hedgePositions} {
		for _, p := range positions {
			totalNotional = totalNotional.Add(p.Notional())
			if p.Symbol == symbol {
				symbolNotional = symbolNotional.Add(p.Notional())
			}
		}
	}

	maxTotal := decimal.NewFromFloat(g.limits.MaxTotalNotional)
	if totalNotional.Add(notionalUSD).GreaterThan(maxTotal) {
		return RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("total notional %s exceeds limit %s", totalNotional.Add(notionalUSD), maxTotal),
		}
	}

	maxSymbol := decimal.NewFromFloat(g.limits.MaxSymbolNotional)
	if symbolNotional.Add(notionalUSD).GreaterThan(maxSymbol) {
		return RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("symbol %s notional %s exceeds limit %s", symbol, symbolNotional.Add(notionalUSD), maxSymbol),
		}
	}

	return RiskCheckResult{Approved: true, Reason: "risk checks passed"}
}

// CheckMarginHealth derives a margin snapshot for one venue from its open
// positions and the configured leverage cap. Venues without a dedicated
// balance endpoint report utilization from position notional alone.
func CheckMarginHealth(ctx context.Context, venue core.IVenue, accountValue decimal.Decimal, marginBuffer decimal.Decimal) (MarginHealth, error) {
	positions, err := venue.GetPositions(ctx)
	if err != nil {
		return MarginHealth{}, fmt.Errorf("margin check on %s: %w", venue.GetName(), err)
	}

	marginUsed := decimal.Zero
	for _, p := range positions {
		if p.Leverage.IsPositive() {
			marginUsed = marginUsed.Add(p.Notional().Div(p.Leverage))
		} else {
			marginUsed = marginUsed.Add(p.Notional())
		}
	}

	utilization := decimal.Zero
	if accountValue.IsPositive() {
		utilization = marginUsed.Div(accountValue)
	}

	threshold := decimalOne.Sub(marginBuffer)
	return MarginHealth{
		Venue:           venue.GetName(),
		TotalMarginUsed: marginUsed,
		AccountValue:    accountValue,
		Utilization:     utilization,
		IsHealthy:       utilization.LessThanOrEqual(threshold),
		LiquidationRisk: utilization.GreaterThan(threshold),
	}, nil
}
