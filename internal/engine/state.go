// Package engine contains the trade-lifecycle controller that drives the
// strategy, portfolio, execution, and safety subsystems on a periodic tick.
package engine

import (
	"fmt"

	"funding_arb/internal/core"
)

// SymbolState is one symbol's place in the hedged-position lifecycle
type SymbolState string

const (
	StateIdle        SymbolState = "idle"
	StateEntering    SymbolState = "entering"
	StateHedged      SymbolState = "hedged"
	StateRebalancing SymbolState = "rebalancing"
	StateExiting     SymbolState = "exiting"
)

// validTransitions encodes the monotone lifecycle:
// IDLE -> ENTERING -> HEDGED -> (REBALANCING -> HEDGED)* -> EXITING -> IDLE.
// ENTERING may fall back to IDLE when execution fails, and EXITING back to
// HEDGED; no path skips HEDGED on the way out.
var validTransitions = map[SymbolState][]SymbolState{
	StateIdle:        {StateEntering},
	StateEntering:    {StateHedged, StateIdle},
	StateHedged:      {StateRebalancing, StateExiting},
	StateRebalancing: {StateHedged},
	StateExiting:     {StateIdle, StateHedged},
}

// symbolContext is the controller's per-symbol tagged state: lifecycle
// position plus the durable record backing it.
type symbolContext struct {
	state  SymbolState
	record core.PositionRecord
}

func newSymbolContext() *symbolContext {
	return &symbolContext{state: StateIdle}
}

// transition moves the symbol to the next state, rejecting any jump the
// lifecycle does not allow.
func (c *symbolContext) transition(to SymbolState) error {
	for _, allowed := range validTransitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", c.state, to)
}
