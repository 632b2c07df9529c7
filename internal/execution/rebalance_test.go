package execution

import (
	"context"
	"testing"

	"funding_arb/internal/core"
	"funding_arb/internal/mock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func position(side core.Side, size string) *core.VenuePosition {
	return &core.VenuePosition{
		Symbol:     "ETH",
		Side:       side,
		Size:       decimal.RequireFromString(size),
		EntryPrice: decimal.NewFromInt(2500),
		Leverage:   decimal.NewFromInt(1),
	}
}

func TestDetectDriftHedgedPair(t *testing.T) {
	// Long 1.0 against short 0.98: residual 0.02 over avg 0.99 is ~202 bps
	drift := DetectDrift("ETH",
		position(core.SideBuy, "1.0"),
		position(core.SideSell, "0.98"),
		decimal.NewFromInt(100))

	require.NotNil(t, drift)
	assert.True(t, drift.DriftQuantity.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, drift.DriftBps.GreaterThan(decimal.NewFromInt(200)))
	assert.True(t, drift.DriftBps.LessThan(decimal.NewFromInt(205)))
	assert.True(t, drift.NeedsRebalance)
}

func TestDetectDriftBelowThreshold(t *testing.T) {
	drift := DetectDrift("ETH",
		position(core.SideBuy, "1.0"),
		position(core.SideSell, "0.999"),
		decimal.NewFromInt(100))

	require.NotNil(t, drift)
	assert.False(t, drift.NeedsRebalance)
}

func TestDetectDriftThresholdInclusive(t *testing.T) {
	// Residual 0.01 over avg 1.0 is exactly 100 bps
	drift := DetectDrift("ETH",
		position(core.SideBuy, "1.005"),
		position(core.SideSell, "0.995"),
		decimal.NewFromInt(100))

	require.NotNil(t, drift)
	assert.True(t, drift.DriftBps.Equal(decimal.NewFromInt(100)))
	assert.True(t, drift.NeedsRebalance)
}

func TestDetectDriftMissingLeg(t *testing.T) {
	assert.Nil(t, DetectDrift("ETH", position(core.SideBuy, "1.0"), nil, decimal.NewFromInt(100)))
	assert.Nil(t, DetectDrift("ETH", nil, position(core.SideSell, "1.0"), decimal.NewFromInt(100)))
	assert.Nil(t, DetectDrift("ETH", nil, nil, decimal.NewFromInt(100)))
}

func TestPlanRebalanceNetLongSells(t *testing.T) {
	drift := DetectDrift("ETH",
		position(core.SideBuy, "1.0"),
		position(core.SideSell, "0.98"),
		decimal.NewFromInt(100))
	require.NotNil(t, drift)

	action := PlanRebalance(drift)
	assert.Equal(t, core.SideSell, action.Side)
	assert.True(t, action.Quantity.Equal(decimal.RequireFromString("0.02")))
}

func TestPlanRebalanceNetShortBuys(t *testing.T) {
	drift := DetectDrift("ETH",
		position(core.SideBuy, "0.95"),
		position(core.SideSell, "1.0"),
		decimal.NewFromInt(100))
	require.NotNil(t, drift)

	action := PlanRebalance(drift)
	assert.Equal(t, core.SideBuy, action.Side)
	assert.True(t, action.Quantity.Equal(decimal.RequireFromString("0.05")))
}

func TestExecuteRebalancePlacesIOCOnHedge(t *testing.T) {
	hedge := mock.NewVenue("hedge")
	hedge.SetTicker("ETH", decimal.NewFromInt(2499), decimal.NewFromInt(2501))

	action := RebalanceAction{Symbol: "ETH", Side: core.SideSell, Quantity: decimal.RequireFromString("0.02")}
	result, err := ExecuteRebalance(context.Background(), action, hedge, decimal.NewFromInt(2495))
	require.NoError(t, err)
	assert.True(t, result.FilledSize.Equal(decimal.RequireFromString("0.02")))

	placed := hedge.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, core.OrderTypeLimit, placed[0].Type)
	assert.Equal(t, core.TimeInForceIOC, placed[0].TimeInForce)
	assert.True(t, placed[0].Price.Equal(decimal.NewFromInt(2495)))
	assert.Contains(t, placed[0].ClientID, "rebalance:hedge:ETH:")
}
