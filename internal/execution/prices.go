package execution

import (
	"context"
	"fmt"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

var (
	two        = decimal.NewFromInt(2)
	tenKay     = decimal.NewFromInt(10000)
	decimalOne = decimal.NewFromInt(1)
)

// CoordinatedPrice holds both venues' mid prices and the cross-venue spread
// gate verdict for one dual-leg intent.
type CoordinatedPrice struct {
	Symbol       string
	PrimaryMid   decimal.Decimal
	HedgeMid     decimal.Decimal
	SpreadBps    decimal.Decimal
	IsAcceptable bool
}

// GetCoordinatedPrices pulls one ticker from each venue and gates on the
// cross-venue mid spread. Entries with IsAcceptable false must be skipped.
func GetCoordinatedPrices(ctx context.Context, symbol string, primary, hedge core.IVenue, maxSpreadBps decimal.Decimal) (CoordinatedPrice, error) {
	primaryTicker, err := primary.GetTicker(ctx, symbol)
	if err != nil {
		return CoordinatedPrice{}, fmt.Errorf("primary ticker for %s: %w", symbol, err)
	}
	hedgeTicker, err := hedge.GetTicker(ctx, symbol)
	if err != nil {
		return CoordinatedPrice{}, fmt.Errorf("hedge ticker for %s: %w", symbol, err)
	}

	primaryMid := primaryTicker.Mid()
	hedgeMid := hedgeTicker.Mid()

	avgMid := primaryMid.Add(hedgeMid).Div(two)
	if avgMid.LessThanOrEqual(decimal.Zero) {
		return CoordinatedPrice{}, fmt.Errorf("degenerate mids for %s: primary=%s hedge=%s", symbol, primaryMid, hedgeMid)
	}
	spreadBps := primaryMid.Sub(hedgeMid).Abs().Div(avgMid).Mul(tenKay)

	return CoordinatedPrice{
		Symbol:       symbol,
		PrimaryMid:   primaryMid,
		HedgeMid:     hedgeMid,
		SpreadBps:    spreadBps,
		IsAcceptable: spreadBps.LessThanOrEqual(maxSpreadBps),
	}, nil
}

// CalculateLimitPrices derives aggressive limit prices from the coordinated
// mids: multiplied by the slippage factor when buying, divided when selling.
// Tick rounding is the venue adapter's job.
func CalculateLimitPrices(coords CoordinatedPrice, isBuyPrimary, isBuyHedge bool, slippageBps decimal.Decimal) (primaryLimit, hedgeLimit decimal.Decimal) {
	factor := decimalOne.Add(slippageBps.Div(tenKay))

	if isBuyPrimary {
		primaryLimit = coords.PrimaryMid.Mul(factor)
	} else {
		primaryLimit = coords.PrimaryMid.Div(factor)
	}

	if isBuyHedge {
		hedgeLimit = coords.HedgeMid.Mul(factor)
	} else {
		hedgeLimit = coords.HedgeMid.Div(factor)
	}

	return primaryLimit, hedgeLimit
}
