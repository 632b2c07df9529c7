package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

// TradeRecord is one executed leg, entry or exit
type TradeRecord struct {
	Timestamp int64           `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Venue     string          `json:"venue"`
	Side      core.Side       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	IsEntry   bool            `json:"is_entry"`
}

// FundingPayment is one funding transfer observed on a venue
type FundingPayment struct {
	Timestamp    int64           `json:"timestamp"`
	Symbol       string          `json:"symbol"`
	Venue        string          `json:"venue"`
	Rate         decimal.Decimal `json:"rate"`
	PaymentUSD   decimal.Decimal `json:"payment_usd"`
	PositionSize decimal.Decimal `json:"position_size"`
}

// PnLTotals is the aggregate summary of the ledger
type PnLTotals struct {
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	TotalFunding decimal.Decimal `json:"total_funding"`
	TotalFees    decimal.Decimal `json:"total_fees"`
	NetPnL       decimal.Decimal `json:"net_pnl"`
}

// ledgerState is the on-disk shape of the ledger
type ledgerState struct {
	Trades          []TradeRecord    `json:"trades"`
	FundingPayments []FundingPayment `json:"funding_payments"`
	TotalFees       decimal.Decimal  `json:"total_fees"`
	TotalFunding    decimal.Decimal  `json:"total_funding"`
	RealizedPnL     decimal.Decimal  `json:"realized_pnl"`
}

// Ledger is the append-only PnL book: trades, funding payments, and
// aggregate totals. Every append flushes the whole file atomically.
type Ledger struct {
	mu sync.Mutex

	path  string
	state ledgerState
	now   func() time.Time

	logger core.ILogger
}

// OpenLedger loads the ledger at path, creating an empty one if the file
// does not exist. A corrupt file is treated as empty and logged.
func OpenLedger(path string, logger core.ILogger) *Ledger {
	l := &Ledger{
		path:   path,
		now:    time.Now,
		logger: logger.WithField("component", "pnl_ledger"),
	}
	l.load()
	return l
}

// SetClock overrides the time source for tests
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// RecordTrade appends a trade record and flushes
func (l *Ledger) RecordTrade(symbol, venue string, side core.Side, quantity, price, fee decimal.Decimal, isEntry bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Trades = append(l.state.Trades, TradeRecord{
		Timestamp: l.now().Unix(),
		Symbol:    symbol,
		Venue:     venue,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Fee:       fee,
		IsEntry:   isEntry,
	})
	l.state.TotalFees = l.state.TotalFees.Add(fee)
	return l.flushLocked()
}

// RecordFunding appends a funding payment and flushes
func (l *Ledger) RecordFunding(symbol, venue string, rate, positionSize, paymentUSD decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.FundingPayments = append(l.state.FundingPayments, FundingPayment{
		Timestamp:    l.now().Unix(),
		Symbol:       symbol,
		Venue:        venue,
		Rate:         rate,
		PaymentUSD:   paymentUSD,
		PositionSize: positionSize,
	})
	l.state.TotalFunding = l.state.TotalFunding.Add(paymentUSD)
	return l.flushLocked()
}

// RecordRealized adds to the realized PnL total and flushes
func (l *Ledger) RecordRealized(pnl decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.RealizedPnL = l.state.RealizedPnL.Add(pnl)
	return l.flushLocked()
}

// Totals returns the aggregate summary
func (l *Ledger) Totals() PnLTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return PnLTotals{
		RealizedPnL:  l.state.RealizedPnL,
		TotalFunding: l.state.TotalFunding,
		TotalFees:    l.state.TotalFees,
		NetPnL:       l.state.RealizedPnL.Add(l.state.TotalFunding).Sub(l.state.TotalFees),
	}
}

// TradeCount returns the number of recorded trades
func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state.Trades)
}

// SymbolFunding sums the funding payments recorded for one symbol
func (l *Ledger) SymbolFunding(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, f := range l.state.FundingPayments {
		if f.Symbol == symbol {
			total = total.Add(f.PaymentUSD)
		}
	}
	return total
}

// SymbolFees sums the fees recorded for one symbol
func (l *Ledger) SymbolFees(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, t := range l.state.Trades {
		if t.Symbol == symbol {
			total = total.Add(t.Fee)
		}
	}
	return total
}

func (l *Ledger) flushLocked() error {
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := atomicWrite(l.path, data); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}

func (l *Ledger) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Error("Ledger unreadable, starting empty", "path", l.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &l.state); err != nil {
		l.logger.Error("Ledger corrupt, starting empty", "path", l.path, "error", err)
		l.state = ledgerState{}
	}
}
