package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundingStoreAppendAndWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funding.db")
	store, err := OpenFundingStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	observations := []FundingObservation{
		{Symbol: "ETH", Venue: "hyperliquid", RateBps: decimal.NewFromInt(12), ObservedAt: base},
		{Symbol: "ETH", Venue: "lighter", RateBps: decimal.RequireFromString("-3.5"), ObservedAt: base.Add(time.Hour)},
		{Symbol: "BTC", Venue: "hyperliquid", RateBps: decimal.NewFromInt(8), ObservedAt: base.Add(2 * time.Hour)},
	}
	for _, obs := range observations {
		require.NoError(t, store.Append(ctx, obs))
	}

	window, err := store.Window(ctx, "ETH", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)

	// Oldest first
	assert.Equal(t, "hyperliquid", window[0].Venue)
	assert.True(t, window[0].RateBps.Equal(decimal.NewFromInt(12)))
	assert.True(t, window[1].RateBps.Equal(decimal.RequireFromString("-3.5")))
	assert.Equal(t, base.Unix(), window[0].ObservedAt.Unix())
}

func TestFundingStoreWindowExcludesOlder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funding.db")
	store, err := OpenFundingStore(path)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, FundingObservation{
		Symbol: "ETH", Venue: "lighter", RateBps: decimal.NewFromInt(1), ObservedAt: base.Add(-2 * time.Hour)}))
	require.NoError(t, store.Append(ctx, FundingObservation{
		Symbol: "ETH", Venue: "lighter", RateBps: decimal.NewFromInt(2), ObservedAt: base}))

	window, err := store.Window(ctx, "ETH", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].RateBps.Equal(decimal.NewFromInt(2)))
}

func TestFundingStoreReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "funding.db")
	ctx := context.Background()
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	first, err := OpenFundingStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, FundingObservation{
		Symbol: "SOL", Venue: "hyperliquid", RateBps: decimal.NewFromInt(4), ObservedAt: base}))
	require.NoError(t, first.Close())

	second, err := OpenFundingStore(path)
	require.NoError(t, err)
	defer second.Close()

	window, err := second.Window(ctx, "SOL", base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, window, 1)
}
