// Package execution turns sized strategy decisions into reconciled dual-leg
// fills: sizing, cross-venue price coordination, the order router, fill
// reconciliation, drift rebalancing, and the pre-trade risk gate.
package execution

import (
	"fmt"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

// CalculateQuantity converts a USD notional to base-asset units, floored to
// the venue's lot size. The result is always <= notional/mid.
func CalculateQuantity(notionalUSD, midPrice decimal.Decimal, spec core.SymbolSpec) (decimal.Decimal, error) {
	if midPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("invalid mid price: %s", midPrice)
	}

	raw := notionalUSD.Div(midPrice)
	if spec.LotSize.LessThanOrEqual(decimal.Zero) {
		return raw, nil
	}
	return raw.Div(spec.LotSize).Floor().Mul(spec.LotSize), nil
}

// RoundPrice rounds a price to the venue's tick size, half away from zero.
// Venue adapters apply this before submitting limit prices.
func RoundPrice(price decimal.Decimal, spec core.SymbolSpec) decimal.Decimal {
	if spec.TickSize.LessThanOrEqual(decimal.Zero) {
		return price
	}
	return price.Div(spec.TickSize).Round(0).Mul(spec.TickSize)
}
