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

func dualRequests(size string) (core.OrderRequest, core.OrderRequest) {
	qty := decimal.RequireFromString(size)
	primary := core.OrderRequest{Symbol: "ETH", Side: core.SideSell, Size: qty}
	hedge := core.OrderRequest{Symbol: "ETH", Side: core.SideBuy, Size: qty}
	return primary, hedge
}

func fill(size string) core.OrderResult {
	return core.OrderResult{FilledSize: decimal.RequireFromString(size)}
}

func TestCheckFillsBalanced(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	rec := CheckFills(primaryReq, hedgeReq, fill("1.0"), fill("1.0"), DefaultFillTolerance)

	assert.True(t, rec.IsBalanced())
	assert.False(t, rec.NeedsCorrection)
	assert.True(t, rec.Imbalance.IsZero())
}

func TestCheckFillsWithinTolerance(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	// 0.01 imbalance over avg 0.995 is ~1%, inside the 2% tolerance
	rec := CheckFills(primaryReq, hedgeReq, fill("1.0"), fill("0.99"), DefaultFillTolerance)
	assert.True(t, rec.IsBalanced())
}

func TestCheckFillsUnderFilledHedge(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	rec := CheckFills(primaryReq, hedgeReq, fill("1.0"), fill("0.95"), DefaultFillTolerance)

	require.True(t, rec.NeedsCorrection)
	assert.Equal(t, LegHedge, rec.Target)
	assert.Equal(t, core.SideBuy, rec.Side)
	assert.False(t, rec.ReduceOnly)
	assert.True(t, rec.Size.Equal(decimal.RequireFromString("0.05")))
}

func TestCheckFillsUnderFilledPrimary(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	rec := CheckFills(primaryReq, hedgeReq, fill("0.9"), fill("1.0"), DefaultFillTolerance)

	require.True(t, rec.NeedsCorrection)
	assert.Equal(t, LegPrimary, rec.Target)
	assert.Equal(t, core.SideSell, rec.Side)
	assert.False(t, rec.ReduceOnly)
	assert.True(t, rec.Size.Equal(decimal.RequireFromString("0.1")))
}

func TestCheckFillsOverFilledPrimaryUnwinds(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	// Hedge filled its full intent but primary somehow filled more
	rec := CheckFills(primaryReq, hedgeReq, fill("1.1"), fill("1.0"), DefaultFillTolerance)

	require.True(t, rec.NeedsCorrection)
	assert.Equal(t, LegPrimary, rec.Target)
	assert.Equal(t, core.SideBuy, rec.Side, "unwind is opposite the original sell")
	assert.True(t, rec.ReduceOnly)
}

func TestCheckFillsBothZero(t *testing.T) {
	primaryReq, hedgeReq := dualRequests("1.0")
	rec := CheckFills(primaryReq, hedgeReq, fill("0"), fill("0"), DefaultFillTolerance)
	assert.True(t, rec.IsBalanced())
}

func TestApplyCorrectionTargetsHedgeVenue(t *testing.T) {
	primary := mock.NewVenue("primary")
	hedge := mock.NewVenue("hedge")
	hedge.SetTicker("ETH", decimal.NewFromInt(2499), decimal.NewFromInt(2501))

	rec := FillReconciliation{
		NeedsCorrection: true,
		Target:          LegHedge,
		Side:            core.SideBuy,
		Size:            decimal.RequireFromString("0.05"),
	}

	result, err := ApplyCorrection(context.Background(), "ETH", rec, primary, hedge)
	require.NoError(t, err)
	assert.True(t, result.FilledSize.Equal(decimal.RequireFromString("0.05")))

	placed := hedge.PlacedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, core.OrderTypeMarket, placed[0].Type)
	assert.Equal(t, core.TimeInForceIOC, placed[0].TimeInForce)
	assert.Contains(t, placed[0].ClientID, "correction:hedge:ETH:")
	assert.Empty(t, primary.PlacedOrders())
}

func TestApplyCorrectionWithoutNeedErrors(t *testing.T) {
	primary := mock.NewVenue("primary")
	hedge := mock.NewVenue("hedge")

	_, err := ApplyCorrection(context.Background(), "ETH", FillReconciliation{}, primary, hedge)
	assert.Error(t, err)
}
