// Package hyperliquid adapts the Hyperliquid perpetuals API to core.IVenue.
// Market data and account state come from the /info endpoint, orders go to
// /exchange, and streams ride the public WebSocket feed.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"funding_arb/internal/config"
	"funding_arb/internal/core"
	"funding_arb/internal/venue/base"
	apperrors "funding_arb/pkg/errors"
	"funding_arb/pkg/websocket"

	"github.com/shopspring/decimal"
)

const (
	infoPath     = "/info"
	exchangePath = "/exchange"

	// REST call budget published in the API docs
	requestsPerSecond = 10
)

var tifNames = map[core.TimeInForce]string{
	core.TimeInForceIOC:      "Ioc",
	core.TimeInForceGTT:      "Gtc",
	core.TimeInForcePostOnly: "Alo",
}

// Venue implements core.IVenue for Hyperliquid
type Venue struct {
	*base.Adapter

	wsURL   string
	account string

	mu    sync.Mutex
	specs map[string]core.SymbolSpec

	wsClients []*websocket.Client
	logger    core.ILogger
}

// New creates a Hyperliquid adapter from venue configuration
func New(cfg config.VenueConfig, logger core.ILogger) *Venue {
	signer := base.NewHMACSigner(
		string(cfg.Credentials.APIKey),
		string(cfg.Credentials.APISecret),
	)
	adapter := base.NewAdapter("hyperliquid", cfg.BaseURL, signer, requestsPerSecond, logger)
	return &Venue{
		Adapter: adapter,
		wsURL:   cfg.WebsocketURL,
		account: cfg.AccountID,
		logger:  adapter.Logger(),
	}
}

func (v *Venue) GetName() string { return "hyperliquid" }

// CheckHealth verifies the /info endpoint answers a meta request
func (v *Venue) CheckHealth(ctx context.Context) error {
	_, err := v.Post(ctx, infoPath, map[string]string{"type": "meta"})
	return err
}

type metaResponse struct {
	Universe []assetMeta `json:"universe"`
}

type assetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int32  `json:"szDecimals"`
	MaxLeverage int64  `json:"maxLeverage"`
}

// GetSymbols fetches the perp universe. Specs are cached after the first
// call; the universe changes rarely enough that a restart is acceptable.
func (v *Venue) GetSymbols(ctx context.Context) ([]core.SymbolSpec, error) {
	v.mu.Lock()
	if v.specs != nil {
		specs := make([]core.SymbolSpec, 0, len(v.specs))
		for _, s := range v.specs {
			specs = append(specs, s)
		}
		v.mu.Unlock()
		return specs, nil
	}
	v.mu.Unlock()

	body, err := v.Post(ctx, infoPath, map[string]string{"type": "meta"})
	if err != nil {
		return nil, fmt.Errorf("meta request: %w", err)
	}
	var meta metaResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("meta response: %w", err)
	}

	specs := make([]core.SymbolSpec, 0, len(meta.Universe))
	cache := make(map[string]core.SymbolSpec, len(meta.Universe))
	for _, asset := range meta.Universe {
		spec := core.SymbolSpec{
			Symbol:     asset.Name,
			BaseAsset:  asset.Name,
			QuoteAsset: "USDC",
			// Perp prices carry 6 significant decimals less the size decimals
			TickSize:    decimal.New(1, -(6 - asset.SzDecimals)),
			LotSize:     decimal.New(1, -asset.SzDecimals),
			MaxLeverage: decimal.NewFromInt(asset.MaxLeverage),
		}
		specs = append(specs, spec)
		cache[asset.Name] = spec
	}

	v.mu.Lock()
	v.specs = cache
	v.mu.Unlock()
	return specs, nil
}

type assetCtx struct {
	Funding string `json:"funding"`
	MarkPx  string `json:"markPx"`
	MidPx   string `json:"midPx"`
}

// GetFundingRates fetches the current funding rate for every perp
func (v *Venue) GetFundingRates(ctx context.Context) ([]core.FundingRate, error) {
	body, err := v.Post(ctx, infoPath, map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs request: %w", err)
	}

	// Response is a two-element array: [meta, assetCtxs]
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) != 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs response shape: %w", err)
	}
	var meta metaResponse
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs ctxs: %w", err)
	}

	now := time.Now().UnixMilli()
	rates := make([]core.FundingRate, 0, len(ctxs))
	for i, c := range ctxs {
		if i >= len(meta.Universe) || c.Funding == "" {
			continue
		}
		rate, err := decimal.NewFromString(c.Funding)
		if err != nil {
			continue
		}
		rates = append(rates, core.FundingRate{
			Symbol:    meta.Universe[i].Name,
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

type l2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type l2BookResponse struct {
	Levels [][]l2Level `json:"levels"`
	Time   int64       `json:"time"`
}

// GetTicker derives best bid/ask from the top of the L2 book
func (v *Venue) GetTicker(ctx context.Context, symbol string) (core.Ticker, error) {
	body, err := v.Post(ctx, infoPath, map[string]string{"type": "l2Book", "coin": symbol})
	if err != nil {
		return core.Ticker{}, fmt.Errorf("l2Book request: %w", err)
	}
	var book l2BookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return core.Ticker{}, fmt.Errorf("l2Book response: %w", err)
	}
	if len(book.Levels) < 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return core.Ticker{}, fmt.Errorf("empty book for %s", symbol)
	}

	bid, err := decimal.NewFromString(book.Levels[0][0].Px)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("bad bid price: %w", err)
	}
	ask, err := decimal.NewFromString(book.Levels[1][0].Px)
	if err != nil {
		return core.Ticker{}, fmt.Errorf("bad ask price: %w", err)
	}

	ts := book.Time
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return core.Ticker{Symbol: symbol, Bid: bid, Ask: ask, TimestampMs: ts}, nil
}

type fundingHistoryEntry struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"fundingRate"`
	Time        int64  `json:"time"`
}

// FundingHistory fetches the historical funding payments for one coin over
// [start, end]. Used by the funding-scan diagnostic; not part of IVenue.
func (v *Venue) FundingHistory(ctx context.Context, symbol string, start, end time.Time) ([]core.FundingRate, error) {
	body, err := v.Post(ctx, infoPath, map[string]interface{}{
		"type":      "fundingHistory",
		"coin":      symbol,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("fundingHistory request: %w", err)
	}
	var entries []fundingHistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("fundingHistory response: %w", err)
	}

	rates := make([]core.FundingRate, 0, len(entries))
	for _, e := range entries {
		rate, err := decimal.NewFromString(e.FundingRate)
		if err != nil {
			continue
		}
		rates = append(rates, core.FundingRate{Symbol: symbol, Rate: rate, UpdatedAt: e.Time})
	}
	return rates, nil
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			EntryPx  string `json:"entryPx"`
			Leverage struct {
				Value int64 `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// GetPositions fetches the account's open perp positions. Hyperliquid
// reports signed sizes; a negative szi is a short.
func (v *Venue) GetPositions(ctx context.Context) ([]core.VenuePosition, error) {
	body, err := v.Post(ctx, infoPath, map[string]string{"type": "clearinghouseState", "user": v.account})
	if err != nil {
		return nil, fmt.Errorf("clearinghouseState request: %w", err)
	}
	var state clearinghouseState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("clearinghouseState response: %w", err)
	}

	var positions []core.VenuePosition
	for _, ap := range state.AssetPositions {
		szi, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(ap.Position.EntryPx)
		if err != nil {
			continue
		}

		side := core.SideBuy
		if szi.IsNegative() {
			side = core.SideSell
		}
		leverage := decimal.NewFromInt(ap.Position.Leverage.Value)
		if !leverage.IsPositive() {
			leverage = decimal.NewFromInt(1)
		}
		positions = append(positions, core.VenuePosition{
			Symbol:     ap.Position.Coin,
			Side:       side,
			Size:       szi.Abs(),
			EntryPrice: entry,
			Leverage:   leverage,
		})
	}
	return positions, nil
}

type orderAction struct {
	Type   string      `json:"type"`
	Orders []wireOrder `json:"orders"`
}

type wireOrder struct {
	Asset      string          `json:"a"`
	IsBuy      bool            `json:"b"`
	Price      string          `json:"p"`
	Size       string          `json:"s"`
	ReduceOnly bool            `json:"r"`
	OrderType  json.RawMessage `json:"t"`
	ClientID   string          `json:"c,omitempty"`
}

type exchangeResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Resting *struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Filled *struct {
					Oid     int64  `json:"oid"`
					TotalSz string `json:"totalSz"`
					AvgPx   string `json:"avgPx"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// PlaceOrder submits one order through /exchange and maps the venue's
// resting/filled/error status onto an OrderResult.
func (v *Venue) PlaceOrder(ctx context.Context, req core.OrderRequest) (core.OrderResult, error) {
	var orderType json.RawMessage
	if req.Type == core.OrderTypeLimit {
		tif, ok := tifNames[req.TimeInForce]
		if !ok {
			tif = "Gtc"
		}
		orderType = json.RawMessage(fmt.Sprintf(`{"limit":{"tif":%q}}`, tif))
	} else {
		// Market orders are trigger orders executed at market
		orderType = json.RawMessage(fmt.Sprintf(`{"trigger":{"triggerPx":%q,"isMarket":true,"tpsl":"na"}}`, req.Price.String()))
	}

	payload := map[string]interface{}{
		"action": orderAction{
			Type: "order",
			Orders: []wireOrder{{
				Asset:      req.Symbol,
				IsBuy:      req.Side == core.SideBuy,
				Price:      req.Price.String(),
				Size:       req.Size.String(),
				ReduceOnly: req.ReduceOnly,
				OrderType:  orderType,
				ClientID:   req.ClientID,
			}},
		},
		"nonce": time.Now().UnixMilli(),
	}

	body, err := v.Post(ctx, exchangePath, payload)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("order request: %w", err)
	}
	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderResult{}, fmt.Errorf("order response: %w", err)
	}
	if resp.Status != "ok" || len(resp.Response.Data.Statuses) == 0 {
		return core.OrderResult{}, fmt.Errorf("%w: status=%s", apperrors.ErrOrderRejected, resp.Status)
	}

	status := resp.Response.Data.Statuses[0]
	switch {
	case status.Error != "":
		return core.OrderResult{}, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, status.Error)
	case status.Filled != nil:
		filled, _ := decimal.NewFromString(status.Filled.TotalSz)
		avgPx, _ := decimal.NewFromString(status.Filled.AvgPx)
		return core.OrderResult{
			ClientID:         req.ClientID,
			ExchangeOrderID:  fmt.Sprintf("%d", status.Filled.Oid),
			Status:           "filled",
			FilledSize:       filled,
			AverageFillPrice: avgPx,
		}, nil
	case status.Resting != nil:
		return core.OrderResult{
			ClientID:        req.ClientID,
			ExchangeOrderID: fmt.Sprintf("%d", status.Resting.Oid),
			Status:          "resting",
		}, nil
	default:
		return core.OrderResult{}, fmt.Errorf("%w: unrecognized order status", apperrors.ErrOrderRejected)
	}
}

// CancelOrder cancels a resting order by exchange order ID
func (v *Venue) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":    "cancel",
			"cancels": []map[string]string{{"oid": exchangeOrderID}},
		},
		"nonce": time.Now().UnixMilli(),
	}
	if _, err := v.Post(ctx, exchangePath, payload); err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	return nil
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type activeAssetCtxData struct {
	Coin string   `json:"coin"`
	Ctx  assetCtx `json:"ctx"`
}

// StartFundingStream subscribes to per-coin asset contexts over the
// WebSocket feed and delivers funding updates to the callback.
func (v *Venue) StartFundingStream(ctx context.Context, symbols []string, callback func(core.FundingRate)) error {
	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}

	client := websocket.NewClient(v.wsURL, func(message []byte) {
		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil || env.Channel != "activeAssetCtx" {
			return
		}
		var data activeAssetCtxData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		if len(symbols) > 0 && !requested[data.Coin] {
			return
		}
		rate, err := decimal.NewFromString(data.Ctx.Funding)
		if err != nil {
			return
		}
		callback(core.FundingRate{Symbol: data.Coin, Rate: rate, UpdatedAt: time.Now().UnixMilli()})
	}, v.logger)

	client.SetOnConnected(func() {
		for _, symbol := range symbols {
			sub := map[string]interface{}{
				"method":       "subscribe",
				"subscription": map[string]string{"type": "activeAssetCtx", "coin": symbol},
			}
			if err := client.Send(sub); err != nil {
				v.logger.Warn("Funding subscription failed", "symbol", symbol, "error", err)
			}
		}
	})
	client.Start()
	v.trackClient(ctx, client)
	return nil
}

type bboData struct {
	Coin string     `json:"coin"`
	Time int64      `json:"time"`
	Bbo  [2]l2Level `json:"bbo"`
}

// StartTickerStream subscribes to best bid/offer updates per symbol
func (v *Venue) StartTickerStream(ctx context.Context, symbols []string, callback func(core.Ticker)) error {
	requested := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		requested[s] = true
	}

	client := websocket.NewClient(v.wsURL, func(message []byte) {
		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil || env.Channel != "bbo" {
			return
		}
		var data bboData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		if len(symbols) > 0 && !requested[data.Coin] {
			return
		}
		bid, err := decimal.NewFromString(data.Bbo[0].Px)
		if err != nil {
			return
		}
		ask, err := decimal.NewFromString(data.Bbo[1].Px)
		if err != nil {
			return
		}
		callback(core.Ticker{Symbol: data.Coin, Bid: bid, Ask: ask, TimestampMs: data.Time})
	}, v.logger)

	client.SetOnConnected(func() {
		for _, symbol := range symbols {
			sub := map[string]interface{}{
				"method":       "subscribe",
				"subscription": map[string]string{"type": "bbo", "coin": symbol},
			}
			if err := client.Send(sub); err != nil {
				v.logger.Warn("Ticker subscription failed", "symbol", symbol, "error", err)
			}
		}
	})
	client.Start()
	v.trackClient(ctx, client)
	return nil
}

// trackClient stops the stream client when the caller's context ends
func (v *Venue) trackClient(ctx context.Context, client *websocket.Client) {
	v.mu.Lock()
	v.wsClients = append(v.wsClients, client)
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		client.Stop()
	}()
}
