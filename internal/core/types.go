package core

import (
	"github.com/shopspring/decimal"
)

// Side is the order side
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents supported order types
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce represents order time-in-force policies
type TimeInForce string

const (
	TimeInForceIOC      TimeInForce = "ioc"
	TimeInForceGTT      TimeInForce = "gtt"
	TimeInForcePostOnly TimeInForce = "post_only"
)

// Direction identifies which venue carries the long leg of a hedged pair
type Direction string

const (
	DirectionLongPrimaryShortHedge Direction = "long_primary_short_hedge"
	DirectionLongHedgeShortPrimary Direction = "long_hedge_short_primary"
)

// PrimarySide returns the side taken on the primary venue
func (d Direction) PrimarySide() Side {
	if d == DirectionLongPrimaryShortHedge {
		return SideBuy
	}
	return SideSell
}

// HedgeSide returns the side taken on the hedge venue
func (d Direction) HedgeSide() Side {
	return d.PrimarySide().Opposite()
}

// SymbolSpec holds the static attributes of a tradable symbol on one venue
type SymbolSpec struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MaxLeverage decimal.Decimal
}

// FundingRate is a single venue's funding observation for a symbol
type FundingRate struct {
	Symbol          string
	Rate            decimal.Decimal // per-interval rate, not annualized
	NextFundingTime int64           // unix ms
	UpdatedAt       int64           // unix ms
}

// FundingSnapshot pairs both venues' funding rates for one symbol
type FundingSnapshot struct {
	Symbol         string
	PrimaryRateBps decimal.Decimal
	HedgeRateBps   decimal.Decimal
	TimestampMs    int64
}

// EdgeBps returns the funding edge: primary rate minus hedge rate, in bps
func (s FundingSnapshot) EdgeBps() decimal.Decimal {
	return s.PrimaryRateBps.Sub(s.HedgeRateBps)
}

// Ticker is a bid/ask snapshot
type Ticker struct {
	Symbol      string
	Bid         decimal.Decimal
	Ask         decimal.Decimal
	TimestampMs int64
}

// Mid returns the bid/ask midpoint
func (t Ticker) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// VenuePosition is a venue's own view of an open position
type VenuePosition struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal // always positive, base-asset units
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
}

// SignedSize returns the position size signed by side (+long, -short)
func (p VenuePosition) SignedSize() decimal.Decimal {
	if p.Side == SideSell {
		return p.Size.Neg()
	}
	return p.Size
}

// Notional returns the position value at entry in quote currency
func (p VenuePosition) Notional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// OrderRequest is the order intent envelope submitted to a venue
type OrderRequest struct {
	ClientID    string
	Symbol      string
	Side        Side
	Size        decimal.Decimal // base-asset units
	Type        OrderType
	Price       decimal.Decimal // zero for market orders
	ReduceOnly  bool
	TimeInForce TimeInForce
}

// OrderResult is the venue's response to an order submission
type OrderResult struct {
	ClientID         string
	ExchangeOrderID  string
	Status           string
	FilledSize       decimal.Decimal
	AverageFillPrice decimal.Decimal
}

// PositionRecord is the controller's durable view of an open hedged position
type PositionRecord struct {
	Symbol         string          `json:"symbol"`
	Direction      Direction       `json:"direction"`
	SizeUSD        decimal.Decimal `json:"size_usd"`
	PrimaryFilled  decimal.Decimal `json:"primary_filled"`
	HedgeFilled    decimal.Decimal `json:"hedge_filled"`
	PrimaryEntryPx decimal.Decimal `json:"primary_entry_px"`
	HedgeEntryPx   decimal.Decimal `json:"hedge_entry_px"`
	IsBalanced     bool            `json:"is_balanced"`
}
