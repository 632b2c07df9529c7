// Package mock provides a deterministic in-memory venue for tests and the
// dry-run scanner.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funding_arb/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Venue implements core.IVenue against in-memory state
type Venue struct {
	name string

	mu           sync.Mutex
	specs        map[string]core.SymbolSpec
	fundingRates map[string]core.FundingRate
	tickers      map[string]core.Ticker
	positions    map[string]core.VenuePosition

	placed    []core.OrderRequest
	cancelled []string

	// failure injection
	orderErrs   []error
	fillRatio   decimal.Decimal
	healthErr   error
	positionErr error
	tickerErr   error
	fundingErr  error
}

// NewVenue creates a mock venue that fully fills every order
func NewVenue(name string) *Venue {
	return &Venue{
		name:         name,
		specs:        make(map[string]core.SymbolSpec),
		fundingRates: make(map[string]core.FundingRate),
		tickers:      make(map[string]core.Ticker),
		positions:    make(map[string]core.VenuePosition),
		fillRatio:    decimal.NewFromInt(1),
	}
}

func (v *Venue) GetName() string { return v.name }

func (v *Venue) CheckHealth(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.healthErr
}

// SetSymbolSpec installs a symbol specification
func (v *Venue) SetSymbolSpec(spec core.SymbolSpec) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.specs[spec.Symbol] = spec
}

// SetFundingRate installs a funding observation, stamped now
func (v *Venue) SetFundingRate(symbol string, rate decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now().UnixMilli()
	v.fundingRates[symbol] = core.FundingRate{Symbol: symbol, Rate: rate, UpdatedAt: now}
}

// SetFundingRateAt installs a funding observation with an explicit timestamp
func (v *Venue) SetFundingRateAt(symbol string, rate decimal.Decimal, updatedAt int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fundingRates[symbol] = core.FundingRate{Symbol: symbol, Rate: rate, UpdatedAt: updatedAt}
}

// SetTicker installs a bid/ask snapshot
func (v *Venue) SetTicker(symbol string, bid, ask decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tickers[symbol] = core.Ticker{Symbol: symbol, Bid: bid, Ask: ask, TimestampMs: time.Now().UnixMilli()}
}

// SetPosition installs the venue's view of an open position
func (v *Venue) SetPosition(pos core.VenuePosition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[pos.Symbol] = pos
}

// RemovePosition drops a position
func (v *Venue) RemovePosition(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.positions, symbol)
}

// FailNextOrders queues errors returned by the next PlaceOrder calls, in
// order; a nil entry means that call succeeds.
func (v *Venue) FailNextOrders(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orderErrs = append(v.orderErrs, errs...)
}

// SetFillRatio scales every fill; zero simulates an IOC that rests nothing
func (v *Venue) SetFillRatio(ratio decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fillRatio = ratio
}

// SetHealthErr makes CheckHealth fail
func (v *Venue) SetHealthErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.healthErr = err
}

// SetPositionErr makes GetPositions fail
func (v *Venue) SetPositionErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positionErr = err
}

// SetTickerErr makes GetTicker fail
func (v *Venue) SetTickerErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tickerErr = err
}

// SetFundingErr makes funding lookups fail
func (v *Venue) SetFundingErr(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fundingErr = err
}

// PlacedOrders returns a copy of every accepted order request
func (v *Venue) PlacedOrders() []core.OrderRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]core.OrderRequest, len(v.placed))
	copy(out, v.placed)
	return out
}

// CancelledOrders returns the exchange order IDs cancelled so far
func (v *Venue) CancelledOrders() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.cancelled))
	copy(out, v.cancelled)
	return out
}

func (v *Venue) GetSymbols(ctx context.Context) ([]core.SymbolSpec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]core.SymbolSpec, 0, len(v.specs))
	for _, s := range v.specs {
		out = append(out, s)
	}
	return out, nil
}

func (v *Venue) GetFundingRate(ctx context.Context, symbol string) (core.FundingRate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fundingErr != nil {
		return core.FundingRate{}, v.fundingErr
	}
	rate, ok := v.fundingRates[symbol]
	if !ok {
		return core.FundingRate{}, fmt.Errorf("%s: no funding rate for %s", v.name, symbol)
	}
	return rate, nil
}

func (v *Venue) GetFundingRates(ctx context.Context) ([]core.FundingRate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fundingErr != nil {
		return nil, v.fundingErr
	}
	out := make([]core.FundingRate, 0, len(v.fundingRates))
	for _, r := range v.fundingRates {
		out = append(out, r)
	}
	return out, nil
}

func (v *Venue) GetTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tickerErr != nil {
		return core.Ticker{}, v.tickerErr
	}
	t, ok := v.tickers[symbol]
	if !ok {
		return core.Ticker{}, fmt.Errorf("%s: no ticker for %s", v.name, symbol)
	}
	return t, nil
}

func (v *Venue) StartFundingStream(ctx context.Context, symbols []string, callback func(core.FundingRate)) error {
	rates, err := v.GetFundingRates(ctx)
	if err != nil {
		return err
	}
	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}
	for _, r := range rates {
		if len(symbols) == 0 || requested[r.Symbol] {
			callback(r)
		}
	}
	return nil
}

func (v *Venue) StartTickerStream(ctx context.Context, symbols []string, callback func(core.Ticker)) error {
	v.mu.Lock()
	tickers := make([]core.Ticker, 0, len(v.tickers))
	for _, t := range v.tickers {
		tickers = append(tickers, t)
	}
	v.mu.Unlock()

	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}
	for _, t := range tickers {
		if len(symbols) == 0 || requested[t.Symbol] {
			callback(t)
		}
	}
	return nil
}

func (v *Venue) GetPositions(ctx context.Context) ([]core.VenuePosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.positionErr != nil {
		return nil, v.positionErr
	}
	out := make([]core.VenuePosition, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	return out, nil
}

// PlaceOrder fills the request at its limit price (or the last ticker mid
// for market orders), scaled by the fill ratio, and updates the venue's
// position view the way a real venue would.
func (v *Venue) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.orderErrs) > 0 {
		err := v.orderErrs[0]
		v.orderErrs = v.orderErrs[1:]
		if err != nil {
			return core.OrderResult{}, err
		}
	}

	fillPrice := req.Price
	if req.Type == core.OrderTypeMarket || fillPrice.IsZero() {
		if t, ok := v.tickers[req.Symbol]; ok {
			fillPrice = t.Mid()
		}
	}

	filled := req.Size.Mul(v.fillRatio)
	v.placed = append(v.placed, req)
	v.applyFillLocked(req, filled, fillPrice)

	return core.OrderResult{
		ClientID:         req.ClientID,
		ExchangeOrderID:  uuid.NewString(),
		Status:           "filled",
		FilledSize:       filled,
		AverageFillPrice: fillPrice,
	}, nil
}

func (v *Venue) applyFillLocked(req core.OrderRequest, filled, price decimal.Decimal) {
	if filled.IsZero() {
		return
	}

	existing, ok := v.positions[req.Symbol]
	if !ok {
		if req.ReduceOnly {
			return
		}
		v.positions[req.Symbol] = core.VenuePosition{
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       filled,
			EntryPrice: price,
			Leverage:   decimal.NewFromInt(1),
		}
		return
	}

	signed := existing.SignedSize()
	delta := filled
	if req.Side == core.SideSell {
		delta = filled.Neg()
	}
	signed = signed.Add(delta)

	switch {
	case signed.IsZero():
		delete(v.positions, req.Symbol)
	case signed.IsPositive():
		existing.Side = core.SideBuy
		existing.Size = signed
		v.positions[req.Symbol] = existing
	default:
		existing.Side = core.SideSell
		existing.Size = signed.Neg()
		v.positions[req.Symbol] = existing
	}
}

func (v *Venue) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelled = append(v.cancelled, exchangeOrderID)
	return nil
}
