package safety

import (
	"testing"

	"funding_arb/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMarginMonitorFlagsCriticalUtilization(t *testing.T) {
	m := NewMarginMonitor(decimal.RequireFromString("0.2"), logging.GetGlobalLogger())

	// Threshold is 1 - buffer = 0.8
	assert.False(t, m.Update("primary", decimal.RequireFromString("0.5")))
	assert.False(t, m.Update("primary", decimal.RequireFromString("0.8")))
	assert.True(t, m.Update("primary", decimal.RequireFromString("0.81")))

	assert.True(t, m.Utilization("primary").Equal(decimal.RequireFromString("0.81")))
	assert.True(t, m.Utilization("hedge").IsZero())
}
