// Package lighter adapts the Lighter zk-exchange REST API to core.IVenue.
// Lighter has no public stream for the data the engine needs, so streams
// poll the REST endpoints on the adapter's worker pool.
package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/venue/base"
	apperrors "funding_arb/pkg/errors"

	"github.com/shopspring/decimal"
)

const (
	statusPath       = "/api/v1/status"
	orderBooksPath   = "/api/v1/orderBookDetails"
	orderBookPath    = "/api/v1/orderBookOrders"
	fundingRatesPath = "/api/v1/funding-rates"
	accountPath      = "/api/v1/account"
	ordersPath       = "/api/v1/orders"

	requestsPerSecond = 8

	fundingPollInterval = 60 * time.Second
	tickerPollInterval  = 5 * time.Second
)

var tifNames = map[core.TimeInForce]string{
	core.TimeInForceIOC:      "immediate-or-cancel",
	core.TimeInForceGTT:      "good-till-time",
	core.TimeInForcePostOnly: "post-only",
}

// marketMeta is the per-market metadata needed to build and route orders
type marketMeta struct {
	MarketID      int64
	PriceDecimals int32
	SizeDecimals  int32
}

// Venue implements core.IVenue for Lighter
type Venue struct {
	*base.Adapter

	accountIndex string

	mu      sync.Mutex
	markets map[string]marketMeta

	logger core.ILogger
}

// New creates a Lighter adapter from venue configuration
func New(cfg config.VenueConfig, logger core.ILogger) *Venue {
	signer := base.NewHMACSigner(
		string(cfg.Credentials.APIKey),
		string(cfg.Credentials.APISecret),
	)
	adapter := base.NewAdapter("lighter", cfg.BaseURL, signer, requestsPerSecond, logger)
	return &Venue{
		Adapter:      adapter,
		accountIndex: cfg.AccountID,
		logger:       adapter.Logger(),
	}
}

func (v *Venue) GetName() string { return "lighter" }

// CheckHealth pings the status endpoint
func (v *Venue) CheckHealth(ctx context.Context) error {
	_, err := v.Get(ctx, statusPath, nil)
	return err
}

type orderBookDetailsResponse struct {
	OrderBookDetails []struct {
		Symbol                 string `json:"symbol"`
		MarketID               int64  `json:"market_id"`
		SupportedPriceDecimals int32  `json:"supported_price_decimals"`
		SupportedSizeDecimals  int32  `json:"supported_size_decimals"`
	} `json:"order_book_details"`
}

// loadMarkets fetches and caches the market metadata
func (v *Venue) loadMarkets(ctx context.Context) (map[string]marketMeta, error) {
	v.mu.Lock()
	if v.markets != nil {
		markets := v.markets
		v.mu.Unlock()
		return markets, nil
	}
	v.mu.Unlock()

	body, err := v.Get(ctx, orderBooksPath, map[string]string{"filter": "all"})
	if err != nil {
		return nil, fmt.Errorf("order book details: %w", err)
	}
	var resp orderBookDetailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("order book details response: %w", err)
	}

	markets := make(map[string]marketMeta, len(resp.OrderBookDetails))
	for _, m := range resp.OrderBookDetails {
		markets[m.Symbol] = marketMeta{
			MarketID:      m.MarketID,
			PriceDecimals: m.SupportedPriceDecimals,
			SizeDecimals:  m.SupportedSizeDecimals,
		}
	}

	v.mu.Lock()
	v.markets = markets
	v.mu.Unlock()
	return markets, nil
}

// GetSymbols derives symbol specs from the market metadata
func (v *Venue) GetSymbols(ctx context.Context) ([]core.SymbolSpec, error) {
	markets, err := v.loadMarkets(ctx)
	if err != nil {
		return nil, err
	}

	specs := make([]core.SymbolSpec, 0, len(markets))
	for symbol, meta := range markets {
		baseAsset, quoteAsset := symbol, "USDC"
		if parts := strings.SplitN(symbol, "/", 2); len(parts) == 2 {
			baseAsset, quoteAsset = parts[0], parts[1]
		}
		specs = append(specs, core.SymbolSpec{
			Symbol:      symbol,
			BaseAsset:   baseAsset,
			QuoteAsset:  quoteAsset,
			TickSize:    decimal.New(1, -meta.PriceDecimals),
			LotSize:     decimal.New(1, -meta.SizeDecimals),
			MaxLeverage: decimal.NewFromInt(10),
		})
	}
	return specs, nil
}

type fundingRatesResponse struct {
	FundingRates []struct {
		Symbol string `json:"symbol"`
		Rate   string `json:"rate"`
	} `json:"funding_rates"`
}

// GetFundingRates fetches the current funding rate for every market
func (v *Venue) GetFundingRates(ctx context.Context) ([]core.FundingRate, error) {
	body, err := v.Get(ctx, fundingRatesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("funding rates: %w", err)
	}
	var resp fundingRatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("funding rates response: %w", err)
	}

	now := time.Now().UnixMilli()
	rates := make([]core.FundingRate, 0, len(resp.FundingRates))
	for _, r := range resp.FundingRates {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			continue
		}
		rates = append(rates, core.FundingRate{
			Symbol:    r.Symbol,
			Rate:      rate,
			UpdatedAt: now,
		})
	}
	return rates, nil
}

// GetFundingRate fetches the funding rate for one symbol
func (v *Venue) GetFundingRate(ctx context.Context, symbol string) (core.FundingRate, error) {
	rates, err := v.GetFundingRates(ctx)
	if err != nil {
		return core.FundingRate{}, err
	}
	for _, r := range rates {
		if r.Symbol == symbol {
			return r, nil
		}
	}
	return core.FundingRate{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
}

type orderBookOrdersResponse struct {
	Bids []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// GetTicker derives best bid/ask from the top of the order book
func (v *Venue) GetTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	markets, err := v.loadMarkets(ctx)
	if err != nil {
		return core.Ticker{}, err
	}
	meta, ok := markets[symbol]
	if !ok {
		return core.Ticker{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, symbol)
	}

	body, err := v.Get(ctx, orderBookPath, map[string]string{
		"market_id": strconv.FormatInt(meta.MarketID, 10),
		"limit":     "1",
	})
	if err != nil {
		return core.Ticker{}, fmt.Errorf("order book for %s: %w", symbol, err)
	}
	var book orderBookOrdersResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return core.Ticker{}, fmt.Errorf("order book response: %w", err)
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return core.Ticker{}, fmt.Errorf("empty book for %s", symbol)
	}

	bid, err := decimal.NewFromString(book.Bids[0].Price)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("bad bid price: %w", err)
	}
	ask, err := decimal.NewFromString(book.Asks[0].Price)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("bad ask price: %w", err)
	}
	return core.Ticker{Symbol: symbol, Bid: bid, Ask: ask, TimestampMs: time.Now().UnixMilli()}, nil
}

// StartFundingStream polls the funding endpoint once a minute on the
// adapter's worker pool.
func (v *Venue) StartFundingStream(ctx context.Context, symbols []string, callback func(core.FundingRate)) error {
	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}
	return v.PollLoop(ctx, fundingPollInterval, func(ctx context.Context) error {
		rates, err := v.GetFundingRates(ctx)
		if err != nil {
			return err
		}
		for _, r := range rates {
			if len(symbols) == 0 || requested[r.Symbol] {
				callback(r)
			}
		}
		return nil
	})
}

// StartTickerStream polls the order book tops every few seconds
func (v *Venue) StartTickerStream(ctx context.Context, symbols []string, callback func(core.Ticker)) error {
	return v.PollLoop(ctx, tickerPollInterval, func(ctx context.Context) error {
		for _, symbol := range symbols {
			ticker, err := v.GetTicker(ctx, symbol)
			if err != nil {
				v.logger.Warn("Ticker poll failed", "symbol", symbol, "error", err)
				continue
			}
			callback(ticker)
		}
		return nil
	})
}

type accountResponse struct {
	Positions []struct {
		Symbol     string `json:"symbol"`
		Size       string `json:"size"`
		EntryPrice string `json:"entry_price"`
		Leverage   string `json:"leverage"`
	} `json:"positions"`
}

// GetPositions fetches the account's open positions. Lighter reports
// signed sizes; a negative size is a short.
func (v *Venue) GetPositions(ctx context.Context) ([]core.VenuePosition, error) {
	body, err := v.Get(ctx, accountPath, map[string]string{
		"by":    "index",
		"value": v.accountIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("account request: %w", err)
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("account response: %w", err)
	}

	var positions []core.VenuePosition
	for _, p := range resp.Positions {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || size.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(p.EntryPrice)
		if err != nil {
			continue
		}
		leverage, err := decimal.NewFromString(p.Leverage)
		if err != nil || !leverage.IsPositive() {
			leverage = decimal.NewFromInt(1)
		}

		side := core.SideBuy
		if size.IsNegative() {
			side = core.SideSell
		}
		positions = append(positions, core.VenuePosition{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       size.Abs(),
			EntryPrice: entry,
			Leverage:   leverage,
		})
	}
	return positions, nil
}

type orderResponse struct {
	OrderIndex  int64  `json:"order_index"`
	Status      string `json:"status"`
	FilledSize  string `json:"filled_size"`
	AvgPrice    string `json:"avg_price"`
	RejectError string `json:"reject_error"`
}

// PlaceOrder submits a signed order. Prices and sizes are scaled to the
// market's integer representation before submission.
func (v *Venue) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	markets, err := v.loadMarkets(ctx)
	if err != nil {
		return core.OrderResult{}, err
	}
	meta, ok := markets[req.Symbol]
	if !ok {
		return core.OrderResult{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, req.Symbol)
	}
	tif, ok := tifNames[req.TimeInForce]
	if !ok {
		return core.OrderResult{}, fmt.Errorf("%w: time in force %q", apperrors.ErrInvalidOrderParameter, req.TimeInForce)
	}
	if req.Type == core.OrderTypeLimit && !req.Price.IsPositive() {
		return core.OrderResult{}, fmt.Errorf("%w: limit order requires price", apperrors.ErrInvalidOrderParameter)
	}

	payload := map[string]interface{}{
		"market_index":       meta.MarketID,
		"client_order_index": time.Now().UnixMilli(),
		"client_id":          req.ClientID,
		"base_amount":        req.Size.Shift(meta.SizeDecimals).IntPart(),
		"price":              req.Price.Shift(meta.PriceDecimals).IntPart(),
		"is_ask":             req.Side == core.SideSell,
		"order_type":         string(req.Type),
		"time_in_force":      tif,
		"reduce_only":        req.ReduceOnly,
		"order_expiry":       time.Now().Add(time.Hour).UnixMilli(),
	}

	body, err := v.Post(ctx, ordersPath, payload)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("order request: %w", err)
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderResult{}, fmt.Errorf("order response: %w", err)
	}
	if resp.RejectError != "" {
		return core.OrderResult{}, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, resp.RejectError)
	}

	filled := decimal.Zero
	if resp.FilledSize != "" {
		if raw, err := decimal.NewFromString(resp.FilledSize); err == nil {
			filled = raw.Shift(-meta.SizeDecimals)
		}
	}
	avgPrice := decimal.Zero
	if resp.AvgPrice != "" {
		if raw, err := decimal.NewFromString(resp.AvgPrice); err == nil {
			avgPrice = raw.Shift(-meta.PriceDecimals)
		}
	}

	return core.OrderResult{
		ClientID:         req.ClientID,
		ExchangeOrderID:  fmt.Sprintf("%d:%d", meta.MarketID, resp.OrderIndex),
		Status:           resp.Status,
		FilledSize:       filled,
		AverageFillPrice: avgPrice,
	}, nil
}

// CancelOrder cancels by the "market:index" composite ID this adapter
// hands out.
func (v *Venue) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	parts := strings.SplitN(exchangeOrderID, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: malformed order id %q", apperrors.ErrOrderNotFound, exchangeOrderID)
	}
	payload := map[string]interface{}{
		"market_index": parts[0],
		"order_index":  parts[1],
	}
	if _, err := v.Post(ctx, ordersPath+"/cancel", payload); err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	return nil
}
