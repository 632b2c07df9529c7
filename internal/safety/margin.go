package safety

import (
	"sync"

	"funding_arb/internal/core"

	"github.com/shopspring/decimal"
)

var warnUtilization = decimal.NewFromFloat(0.75)

// MarginMonitor tracks per-venue margin utilization against the configured
// buffer and flags critically low margin.
type MarginMonitor struct {
	mu sync.Mutex

	marginBufferRatio decimal.Decimal
	utilization       map[string]decimal.Decimal

	logger core.ILogger
}

// NewMarginMonitor creates a margin monitor with the given buffer ratio
func NewMarginMonitor(marginBufferRatio decimal.Decimal, logger core.ILogger) *MarginMonitor {
	return &MarginMonitor{
		marginBufferRatio: marginBufferRatio,
		utilization:       make(map[string]decimal.Decimal),
		logger:            logger.WithField("component", "margin_monitor"),
	}
}

// Update records a venue's margin utilization and returns true when it has
// eaten into the configured buffer.
func (m *MarginMonitor) Update(venue string, utilization decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.utilization[venue] = utilization

	critical := decimal.NewFromInt(1).Sub(m.marginBufferRatio)
	if utilization.GreaterThan(critical) {
		m.logger.Error("Margin critically low",
			"venue", venue, "utilization", utilization, "buffer", m.marginBufferRatio)
		return true
	}
	if utilization.GreaterThan(warnUtilization) {
		m.logger.Warn("Margin utilization high", "venue", venue, "utilization", utilization)
	}
	return false
}

// Utilization returns the last recorded utilization for a venue
func (m *MarginMonitor) Utilization(venue string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.utilization[venue]
}
