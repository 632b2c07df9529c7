// Package core defines the shared types and interfaces of the arbitrage engine
package core

import (
	"context"
)

// IVenue is the capability surface the engine consumes from an exchange venue.
// Implementations live under internal/venue; the engine never depends on a
// concrete adapter.
type IVenue interface {
	// Identity
	GetName() string
	CheckHealth(ctx context.Context) error

	// Market data
	GetSymbols(ctx context.Context) ([]SymbolSpec, error)
	GetFundingRate(ctx context.Context, symbol string) (FundingRate, error)
	GetFundingRates(ctx context.Context) ([]FundingRate, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	// Streams. Restartable; callers may pull a single item and discard the rest.
	StartFundingStream(ctx context.Context, symbols []string, callback func(FundingRate)) error
	StartTickerStream(ctx context.Context, symbols []string, callback func(Ticker)) error

	// Account
	GetPositions(ctx context.Context) ([]VenuePosition, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
