package execution

import (
	"testing"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spec(lot, tick string) core.SymbolSpec {
	return core.SymbolSpec{
		Symbol:   "ETH",
		LotSize:  decimal.RequireFromString(lot),
		TickSize: decimal.RequireFromString(tick),
	}
}

func TestCalculateQuantityFloorsToLot(t *testing.T) {
	tests := []struct {
		name     string
		notional string
		mid      string
		lot      string
		want     string
	}{
		{"exact multiple", "10000", "2500", "0.001", "4"},
		{"floors remainder", "1000", "2500.37", "0.001", "0.399"},
		{"coarse lot", "1000", "333", "0.1", "3"},
		{"below one lot", "1", "2500", "0.01", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, err := CalculateQuantity(
				decimal.RequireFromString(tt.notional),
				decimal.RequireFromString(tt.mid),
				spec(tt.lot, "0.01"),
			)
			require.NoError(t, err)
			assert.True(t, qty.Equal(decimal.RequireFromString(tt.want)), "got %s", qty)
		})
	}
}

func TestCalculateQuantityRejectsBadMid(t *testing.T) {
	_, err := CalculateQuantity(decimal.NewFromInt(1000), decimal.Zero, spec("0.001", "0.01"))
	assert.Error(t, err)

	_, err = CalculateQuantity(decimal.NewFromInt(1000), decimal.NewFromInt(-5), spec("0.001", "0.01"))
	assert.Error(t, err)
}

func TestCalculateQuantityWithoutLotSize(t *testing.T) {
	qty, err := CalculateQuantity(decimal.NewFromInt(1000), decimal.NewFromInt(400), core.SymbolSpec{})
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.NewFromFloat(2.5)))
}

func TestRoundPriceToTick(t *testing.T) {
	s := spec("0.001", "0.5")
	assert.True(t, RoundPrice(decimal.RequireFromString("2500.2"), s).Equal(decimal.RequireFromString("2500")))
	assert.True(t, RoundPrice(decimal.RequireFromString("2500.25"), s).Equal(decimal.RequireFromString("2500.5")))
	assert.True(t, RoundPrice(decimal.RequireFromString("2500.7"), s).Equal(decimal.RequireFromString("2500.5")))
}
