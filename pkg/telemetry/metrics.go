package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEntriesTotal     = "funding_arb_entries_total"
	MetricExitsTotal       = "funding_arb_exits_total"
	MetricRebalancesTotal  = "funding_arb_rebalances_total"
	MetricMakeupsTotal     = "funding_arb_makeup_orders_total"
	MetricEdgeBps          = "funding_arb_edge_bps"
	MetricDriftBps         = "funding_arb_drift_bps"
	MetricFillImbalance    = "funding_arb_fill_imbalance_ratio"
	MetricKillSwitchActive = "funding_arb_kill_switch_active"
	MetricOpenPositions    = "funding_arb_open_positions"
	MetricVenueLatency     = "funding_arb_venue_latency_ms"
	MetricPnLRealizedTotal = "funding_arb_pnl_realized_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EntriesTotal     metric.Int64Counter
	ExitsTotal       metric.Int64Counter
	RebalancesTotal  metric.Int64Counter
	MakeupsTotal     metric.Int64Counter
	EdgeBps          metric.Float64ObservableGauge
	DriftBps         metric.Float64ObservableGauge
	FillImbalance    metric.Float64Histogram
	KillSwitchActive metric.Int64ObservableGauge
	OpenPositions    metric.Int64ObservableGauge
	VenueLatency     metric.Float64Histogram
	PnLRealizedTotal metric.Float64Counter

	// State for observable gauges
	mu            sync.RWMutex
	edgeMap       map[string]float64
	driftMap      map[string]float64
	killSwitchVal int64
	openPositions int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Instruments start
// bound to the ambient meter provider (a no-op until an exporter is set up)
// and are rebound by InitMetrics during telemetry setup.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			edgeMap:  make(map[string]float64),
			driftMap: make(map[string]float64),
		}
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("funding_arb_core"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EntriesTotal, err = meter.Int64Counter(MetricEntriesTotal, metric.WithDescription("Total hedged entries executed"))
	if err != nil {
		return err
	}

	m.ExitsTotal, err = meter.Int64Counter(MetricExitsTotal, metric.WithDescription("Total hedged exits executed"))
	if err != nil {
		return err
	}

	m.RebalancesTotal, err = meter.Int64Counter(MetricRebalancesTotal, metric.WithDescription("Total drift-correction orders placed"))
	if err != nil {
		return err
	}

	m.MakeupsTotal, err = meter.Int64Counter(MetricMakeupsTotal, metric.WithDescription("Total reconciliation makeup orders placed"))
	if err != nil {
		return err
	}

	m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized funding PnL"))
	if err != nil {
		return err
	}

	m.FillImbalance, err = meter.Float64Histogram(MetricFillImbalance, metric.WithDescription("Fill imbalance ratio observed after dual-leg execution"))
	if err != nil {
		return err
	}

	m.VenueLatency, err = meter.Float64Histogram(MetricVenueLatency, metric.WithDescription("Latency of venue API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.EdgeBps, err = meter.Float64ObservableGauge(MetricEdgeBps, metric.WithDescription("Current funding edge per symbol in bps"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.edgeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.DriftBps, err = meter.Float64ObservableGauge(MetricDriftBps, metric.WithDescription("Current hedge drift per symbol in bps"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.driftMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.KillSwitchActive, err = meter.Int64ObservableGauge(MetricKillSwitchActive, metric.WithDescription("Kill switch state (1=tripped, 0=armed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitchVal)
			return nil
		}))
	if err != nil {
		return err
	}

	m.OpenPositions, err = meter.Int64ObservableGauge(MetricOpenPositions, metric.WithDescription("Number of open hedged positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.openPositions)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetEdgeBps(symbol string, edge float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edgeMap[symbol] = edge
}

func (m *MetricsHolder) SetDriftBps(symbol string, drift float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftMap[symbol] = drift
}

func (m *MetricsHolder) SetKillSwitchActive(active bool) {
	val := int64(0)
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitchVal = val
}

func (m *MetricsHolder) SetOpenPositions(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = count
}

func (m *MetricsHolder) GetEdgeBps() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.edgeMap {
		res[k] = v
	}
	return res
}
