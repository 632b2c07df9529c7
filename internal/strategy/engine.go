// Package strategy holds the entry/exit decision engine and the portfolio
// allocator that sizes its decisions.
package strategy

import (
	"fmt"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

// Action distinguishes opening from closing decisions
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

// Decision is an immutable entry/exit recommendation for one symbol.
// Sizing happens downstream; the engine only proposes the base notional.
type Decision struct {
	Symbol    string
	EdgeBps   decimal.Decimal
	Direction core.Direction
	SizeUSD   decimal.Decimal
	Action    Action
}

// Engine makes per-symbol enter/exit decisions with hysteresis. It is pure
// and synchronous; staleness filtering happens upstream in the controller.
type Engine struct {
	minEdgeBps  decimal.Decimal
	exitEdgeBps decimal.Decimal
	open        map[string]Decision
}

// NewEngine creates a strategy engine. exitEdgeBps must sit strictly below
// minEdgeBps so decisions cannot oscillate on a single snapshot.
func NewEngine(minEdgeBps, exitEdgeBps decimal.Decimal) (*Engine, error) {
	if minEdgeBps.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("min_edge_bps must be positive, got %s", minEdgeBps)
	}
	if exitEdgeBps.LessThanOrEqual(decimal.Zero) || exitEdgeBps.GreaterThanOrEqual(minEdgeBps) {
		return nil, fmt.Errorf("exit_edge_bps must be in (0, %s), got %s", minEdgeBps, exitEdgeBps)
	}
	return &Engine{
		minEdgeBps:  minEdgeBps,
		exitEdgeBps: exitEdgeBps,
		open:        make(map[string]Decision),
	}, nil
}

// Evaluate inspects one funding snapshot and returns a decision, or nil when
// no action is warranted. An edge exactly at min_edge_bps is an entry; an
// edge exactly at exit_edge_bps is an exit.
func (e *Engine) Evaluate(snapshot core.FundingSnapshot, notional decimal.Decimal) *Decision {
	edge := snapshot.EdgeBps()
	absEdge := edge.Abs()

	if open, ok := e.open[snapshot.Symbol]; ok {
		if absEdge.LessThanOrEqual(e.exitEdgeBps) {
			delete(e.open, snapshot.Symbol)
			exit := open
			exit.EdgeBps = edge
			exit.Action = ActionExit
			return &exit
		}
		return nil
	}

	if absEdge.LessThan(e.minEdgeBps) {
		return nil
	}

	// Positive edge: the primary venue pays more funding, so shorts on the
	// primary collect it while the hedge long pays the lower rate.
	direction := core.DirectionLongHedgeShortPrimary
	if edge.IsNegative() {
		direction = core.DirectionLongPrimaryShortHedge
	}

	decision := Decision{
		Symbol:    snapshot.Symbol,
		EdgeBps:   edge,
		Direction: direction,
		SizeUSD:   notional,
		Action:    ActionEnter,
	}
	e.open[snapshot.Symbol] = decision
	return &decision
}

// Restore reinstalls an open decision after a restart so the engine resumes
// emitting exits for positions recovered from the position store.
func (e *Engine) Restore(symbol string, direction core.Direction, sizeUSD decimal.Decimal) {
	e.open[symbol] = Decision{
		Symbol:    symbol,
		Direction: direction,
		SizeUSD:   sizeUSD,
		Action:    ActionEnter,
	}
}

// Forget drops a symbol from the open map without emitting an exit. Used
// when an entry decision was emitted but execution never opened a position.
func (e *Engine) Forget(symbol string) {
	delete(e.open, symbol)
}

// HasOpen reports whether the engine considers the symbol's position open
func (e *Engine) HasOpen(symbol string) bool {
	_, ok := e.open[symbol]
	return ok
}

// OpenSymbols returns the symbols with open decisions
func (e *Engine) OpenSymbols() []string {
	symbols := make([]string, 0, len(e.open))
	for s := range e.open {
		symbols = append(symbols, s)
	}
	return symbols
}
