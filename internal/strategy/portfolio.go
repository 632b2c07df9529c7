package strategy

import (
	"sort"
	"sync"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

// baselineEdgeBps is the edge at which a candidate receives exactly the base
// notional; the multiplier is clamped to [0, 2].
var (
	baselineEdgeBps = decimal.NewFromInt(20)
	maxEdgeMultiple = decimal.NewFromInt(2)
	minTruncateFrac = decimal.NewFromFloat(0.5)
)

// Allocation is the portfolio manager's sizing verdict for one candidate
type Allocation struct {
	Symbol            string
	AllocatedNotional decimal.Decimal
	Priority          int
}

// PortfolioManager allocates notional across candidate entries under the
// total, per-symbol, and position-count caps. It is the single source of
// truth for the open-symbol -> notional map; RegisterPosition and
// ClosePosition are the only mutators.
type PortfolioManager struct {
	mu sync.Mutex

	maxTotalNotional  decimal.Decimal
	maxSymbolNotional decimal.Decimal
	maxPositions      int

	openNotional map[string]decimal.Decimal

	logger core.ILogger
}

// NewPortfolioManager creates a portfolio manager with the given caps
func NewPortfolioManager(maxTotalNotional, maxSymbolNotional decimal.Decimal, maxPositions int, logger core.ILogger) *PortfolioManager {
	return &PortfolioManager{
		maxTotalNotional:  maxTotalNotional,
		maxSymbolNotional: maxSymbolNotional,
		maxPositions:      maxPositions,
		openNotional:      make(map[string]decimal.Decimal),
		logger:            logger.WithField("component", "portfolio"),
	}
}

// Allocate sizes the candidate entries. Candidates are ranked by descending
// |edge| (symbol lexicographic on ties), scaled by edge strength against the
// 20 bps baseline, and cut off at the caps. A final partial allocation is
// accepted only when the remaining headroom is at least half the base
// notional.
func (pm *PortfolioManager) Allocate(opportunities []Decision, baseNotional decimal.Decimal) []Allocation {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	ranked := make([]Decision, len(opportunities))
	copy(ranked, opportunities)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].EdgeBps.Abs(), ranked[j].EdgeBps.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})

	totalAllocated := decimal.Zero
	for _, n := range pm.openNotional {
		totalAllocated = totalAllocated.Add(n)
	}

	var allocations []Allocation
	for idx, opp := range ranked {
		if _, open := pm.openNotional[opp.Symbol]; open {
			continue
		}

		if len(pm.openNotional)+len(allocations) >= pm.maxPositions {
			pm.logger.Info("Max positions reached",
				"max", pm.maxPositions, "open", len(pm.openNotional))
			break
		}

		multiplier := opp.EdgeBps.Abs().Div(baselineEdgeBps)
		if multiplier.GreaterThan(maxEdgeMultiple) {
			multiplier = maxEdgeMultiple
		}
		allocated := decimal.Min(baseNotional.Mul(multiplier), pm.maxSymbolNotional)

		if totalAllocated.Add(allocated).GreaterThan(pm.maxTotalNotional) {
			remaining := pm.maxTotalNotional.Sub(totalAllocated)
			if remaining.GreaterThanOrEqual(baseNotional.Mul(minTruncateFrac)) {
				allocated = remaining
			} else {
				pm.logger.Info("Max total notional reached", "total", totalAllocated)
				break
			}
		}

		allocations = append(allocations, Allocation{
			Symbol:            opp.Symbol,
			AllocatedNotional: allocated,
			Priority:          idx,
		})
		totalAllocated = totalAllocated.Add(allocated)
	}

	return allocations
}

// RegisterPosition records a newly opened position's notional
func (pm *PortfolioManager) RegisterPosition(symbol string, notional decimal.Decimal) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.openNotional[symbol] = notional
}

// ClosePosition removes a closed position
func (pm *PortfolioManager) ClosePosition(symbol string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.openNotional, symbol)
}

// HasPosition reports whether the symbol has an open position
func (pm *PortfolioManager) HasPosition(symbol string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.openNotional[symbol]
	return ok
}

// OpenSymbols returns the symbols with registered positions
func (pm *PortfolioManager) OpenSymbols() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	symbols := make([]string, 0, len(pm.openNotional))
	for s := range pm.openNotional {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// OpenCount returns the number of registered positions
func (pm *PortfolioManager) OpenCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.openNotional)
}

// AvailableCapacity returns the remaining total-notional headroom
func (pm *PortfolioManager) AvailableCapacity() decimal.Decimal {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	used := decimal.Zero
	for _, n := range pm.openNotional {
		used = used.Add(n)
	}
	if used.GreaterThanOrEqual(pm.maxTotalNotional) {
		return decimal.Zero
	}
	return pm.maxTotalNotional.Sub(used)
}
