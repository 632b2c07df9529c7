package execution

import (
	"context"
	"testing"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/mock"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openPosition(symbol string, size, price int64) core.VenuePosition {
	return core.VenuePosition{
		Symbol:     symbol,
		Side:       core.SideBuy,
		Size:       decimal.NewFromInt(size),
		EntryPrice: decimal.NewFromInt(price),
		Leverage:   decimal.NewFromInt(2),
	}
}

func newTestGate(t *testing.T) (*RiskGate, *mock.Venue, *mock.Venue) {
	t.Helper()
	primary := mock.NewVenue("primary")
	hedge := mock.NewVenue("hedge")
	limits := config.RiskLimits{
		MaxTotalNotional:  5000,
		MaxSymbolNotional: 2000,
	}
	return NewRiskGate(primary, hedge, limits), primary, hedge
}

func TestCheckEntryApprovesWithinLimits(t *testing.T) {
	gate, _, _ := newTestGate(t)

	result := gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(1000))
	assert.True(t, result.Approved)
}

func TestCheckEntryRejectsTotalNotionalBreach(t *testing.T) {
	gate, primary, hedge := newTestGate(t)
	// 2000 on each venue leaves only 1000 of headroom
	primary.SetPosition(openPosition("BTC", 2, 1000))
	hedge.SetPosition(openPosition("BTC", 2, 1000))

	result := gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(1500))
	require.False(t, result.Approved)
	assert.Contains(t, result.Reason, "total notional")
}

func TestCheckEntryRejectsSymbolNotionalBreach(t *testing.T) {
	gate, primary, _ := newTestGate(t)
	primary.SetPosition(openPosition("ETH", 1, 1500))

	result := gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(600))
	require.False(t, result.Approved)
	assert.Contains(t, result.Reason, "symbol ETH")
}

func TestCheckEntrySymbolCapIgnoresOtherSymbols(t *testing.T) {
	gate, primary, _ := newTestGate(t)
	primary.SetPosition(openPosition("BTC", 1, 1500))

	result := gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(1800))
	assert.True(t, result.Approved)
}

func TestCheckEntryRejectsOnPositionFetchFailure(t *testing.T) {
	gate, primary, hedge := newTestGate(t)

	primary.SetPositionErr(apperrors.ErrNetwork)
	result := gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(100))
	assert.False(t, result.Approved)

	primary.SetPositionErr(nil)
	hedge.SetPositionErr(apperrors.ErrNetwork)
	result = gate.CheckEntry(context.Background(), "ETH", decimal.NewFromInt(100))
	assert.False(t, result.Approved)
}

func TestCheckMarginHealth(t *testing.T) {
	venue := mock.NewVenue("primary")
	// 2000 notional at 2x leverage uses 1000 margin
	venue.SetPosition(openPosition("ETH", 2, 1000))

	health, err := CheckMarginHealth(context.Background(), venue, decimal.NewFromInt(2000), decimal.RequireFromString("0.2"))
	require.NoError(t, err)

	assert.True(t, health.TotalMarginUsed.Equal(decimal.NewFromInt(1000)))
	assert.True(t, health.Utilization.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, health.IsHealthy)
	assert.False(t, health.LiquidationRisk)
}

func TestCheckMarginHealthFlagsLiquidationRisk(t *testing.T) {
	venue := mock.NewVenue("primary")
	venue.SetPosition(openPosition("ETH", 2, 1000))

	// Utilization 1000/1100 breaches the 0.8 threshold
	health, err := CheckMarginHealth(context.Background(), venue, decimal.NewFromInt(1100), decimal.RequireFromString("0.2"))
	require.NoError(t, err)
	assert.False(t, health.IsHealthy)
	assert.True(t, health.LiquidationRisk)
}
