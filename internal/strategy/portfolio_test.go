package strategy

import (
	"testing"

	"funding_arb/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enterDecision(symbol string, edgeBps float64) Decision {
	return Decision{
		Symbol:  symbol,
		EdgeBps: decimal.NewFromFloat(edgeBps),
		Action:  ActionEnter,
	}
}

func newTestPortfolio(maxTotal, maxSymbol float64, maxPositions int) *PortfolioManager {
	return NewPortfolioManager(
		decimal.NewFromFloat(maxTotal),
		decimal.NewFromFloat(maxSymbol),
		maxPositions,
		logging.GetGlobalLogger(),
	)
}

func TestAllocateScalesByEdgeStrength(t *testing.T) {
	pm := newTestPortfolio(10000, 2000, 5)
	base := decimal.NewFromInt(1000)

	allocations := pm.Allocate([]Decision{
		enterDecision("A", 40),
		enterDecision("B", 30),
		enterDecision("C", 10),
	}, base)

	require.Len(t, allocations, 3)
	// Ranked by |edge| descending; allocated = base * clamp(|edge|/20, 0, 2)
	assert.Equal(t, "A", allocations[0].Symbol)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(2000)), "got %s", allocations[0].AllocatedNotional)
	assert.Equal(t, "B", allocations[1].Symbol)
	assert.True(t, allocations[1].AllocatedNotional.Equal(decimal.NewFromInt(1500)), "got %s", allocations[1].AllocatedNotional)
	assert.Equal(t, "C", allocations[2].Symbol)
	assert.True(t, allocations[2].AllocatedNotional.Equal(decimal.NewFromInt(500)), "got %s", allocations[2].AllocatedNotional)
}

func TestAllocateClampsMultiplierAtTwo(t *testing.T) {
	pm := newTestPortfolio(100000, 50000, 5)
	allocations := pm.Allocate([]Decision{enterDecision("A", 200)}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(2000)))
}

func TestAllocateCapsAtSymbolNotional(t *testing.T) {
	pm := newTestPortfolio(100000, 1500, 5)
	allocations := pm.Allocate([]Decision{enterDecision("A", 40)}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(1500)))
}

func TestAllocateNegativeEdgeUsesAbsoluteStrength(t *testing.T) {
	pm := newTestPortfolio(10000, 5000, 5)
	allocations := pm.Allocate([]Decision{enterDecision("A", -40)}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(2000)))
}

func TestAllocateRanksTiesBySymbol(t *testing.T) {
	pm := newTestPortfolio(10000, 2000, 2)
	allocations := pm.Allocate([]Decision{
		enterDecision("ZEC", 30),
		enterDecision("ADA", 30),
		enterDecision("ETH", 30),
	}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 2)
	assert.Equal(t, "ADA", allocations[0].Symbol)
	assert.Equal(t, "ETH", allocations[1].Symbol)
}

func TestAllocateSkipsOpenSymbols(t *testing.T) {
	pm := newTestPortfolio(10000, 2000, 5)
	pm.RegisterPosition("ETH", decimal.NewFromInt(1000))

	allocations := pm.Allocate([]Decision{
		enterDecision("ETH", 50),
		enterDecision("BTC", 30),
	}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.Equal(t, "BTC", allocations[0].Symbol)
}

func TestAllocateStopsAtMaxPositions(t *testing.T) {
	pm := newTestPortfolio(100000, 2000, 2)
	pm.RegisterPosition("OPEN", decimal.NewFromInt(1000))

	allocations := pm.Allocate([]Decision{
		enterDecision("A", 40),
		enterDecision("B", 30),
	}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.Equal(t, "A", allocations[0].Symbol)
}

func TestAllocateTruncatesFinalAllocation(t *testing.T) {
	// 2200 total headroom: A takes 1500, leaving 700 >= 500 so B gets 700
	pm := newTestPortfolio(2200, 5000, 5)
	allocations := pm.Allocate([]Decision{
		enterDecision("A", 30),
		enterDecision("B", 30),
	}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 2)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(1500)))
	assert.True(t, allocations[1].AllocatedNotional.Equal(decimal.NewFromInt(700)))
}

func TestAllocateRejectsTinyTruncation(t *testing.T) {
	// 1800 total: A takes 1500, remaining 300 < 500 so B is dropped
	pm := newTestPortfolio(1800, 5000, 5)
	allocations := pm.Allocate([]Decision{
		enterDecision("A", 30),
		enterDecision("B", 30),
	}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.Equal(t, "A", allocations[0].Symbol)
}

func TestAllocateAccountsForOpenNotional(t *testing.T) {
	pm := newTestPortfolio(3000, 5000, 5)
	pm.RegisterPosition("OPEN", decimal.NewFromInt(2000))

	allocations := pm.Allocate([]Decision{enterDecision("A", 20)}, decimal.NewFromInt(1000))

	require.Len(t, allocations, 1)
	assert.True(t, allocations[0].AllocatedNotional.Equal(decimal.NewFromInt(1000)))
	assert.True(t, pm.AvailableCapacity().Equal(decimal.NewFromInt(1000)))
}

func TestClosePositionFreesCapacity(t *testing.T) {
	pm := newTestPortfolio(2000, 2000, 1)
	pm.RegisterPosition("ETH", decimal.NewFromInt(2000))
	assert.True(t, pm.AvailableCapacity().IsZero())
	assert.Equal(t, 1, pm.OpenCount())

	pm.ClosePosition("ETH")
	assert.False(t, pm.HasPosition("ETH"))
	assert.True(t, pm.AvailableCapacity().Equal(decimal.NewFromInt(2000)))

	allocations := pm.Allocate([]Decision{enterDecision("ETH", 20)}, decimal.NewFromInt(1000))
	assert.Len(t, allocations, 1)
}

func TestOpenSymbolsSorted(t *testing.T) {
	pm := newTestPortfolio(10000, 2000, 5)
	pm.RegisterPosition("SOL", decimal.NewFromInt(100))
	pm.RegisterPosition("BTC", decimal.NewFromInt(100))
	pm.RegisterPosition("ETH", decimal.NewFromInt(100))

	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, pm.OpenSymbols())
}
