package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Primary = VenueConfig{Name: "hyperliquid", BaseURL: "https://api.hyperliquid.xyz"}
	cfg.Hedge = VenueConfig{Name: "lighter", BaseURL: "https://mainnet.zklighter.elliot.ai"}
	cfg.Risk = RiskLimits{
		MaxTotalNotional:  5000,
		MaxSymbolNotional: 2000,
		MaxPositions:      5,
		MaxLeverage:       3,
		MarginBufferRatio: 0.2,
		DriftThresholdBps: 100,
	}
	cfg.Strategy = StrategyConfig{
		MinEdgeBps:               20,
		ExitEdgeBps:              5,
		FundingHorizonHours:      8,
		RebalanceIntervalSeconds: 60,
		StaleDataSeconds:         120,
		TrackedSymbols:           []string{"BTC", "ETH"},
	}
	cfg.Execution = ExecutionConfig{OrderNotional: 1000, SlippageBps: 5, TimeInForce: "ioc"}
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad environment", func(c *Config) { c.Environment = "qa" }, "environment"},
		{"zero poll interval", func(c *Config) { c.PollIntervalSeconds = 0 }, "poll_interval_seconds"},
		{"missing primary name", func(c *Config) { c.Primary.Name = "" }, "primary.name"},
		{"missing hedge url", func(c *Config) { c.Hedge.BaseURL = "" }, "hedge.base_url"},
		{"zero total notional", func(c *Config) { c.Risk.MaxTotalNotional = 0 }, "risk.max_total_notional"},
		{"zero max positions", func(c *Config) { c.Risk.MaxPositions = 0 }, "risk.max_positions"},
		{"margin buffer too large", func(c *Config) { c.Risk.MarginBufferRatio = 1 }, "risk.margin_buffer_ratio"},
		{"zero drift threshold", func(c *Config) { c.Risk.DriftThresholdBps = 0 }, "risk.drift_threshold_bps"},
		{"zero min edge", func(c *Config) { c.Strategy.MinEdgeBps = 0 }, "strategy.min_edge_bps"},
		{"exit not below entry", func(c *Config) { c.Strategy.ExitEdgeBps = 20 }, "strategy.exit_edge_bps"},
		{"no tracked symbols", func(c *Config) { c.Strategy.TrackedSymbols = nil }, "strategy.tracked_symbols"},
		{"zero order notional", func(c *Config) { c.Execution.OrderNotional = 0 }, "execution.order_notional"},
		{"bad time in force", func(c *Config) { c.Execution.TimeInForce = "fok" }, "execution.time_in_force"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("FA_TEST_API_KEY", "key-from-env")

	yaml := `
environment: dev
poll_interval_seconds: 2
primary:
  name: hyperliquid
  base_url: ${FA_TEST_BASE_URL:-https://api.hyperliquid.xyz}
  credentials:
    api_key: ${FA_TEST_API_KEY:-}
hedge:
  name: lighter
  base_url: https://mainnet.zklighter.elliot.ai
risk:
  max_total_notional: 5000
  max_symbol_notional: 2000
  max_positions: 5
  max_leverage: 3
  margin_buffer_ratio: 0.2
  drift_threshold_bps: 100
strategy:
  min_edge_bps: 20
  exit_edge_bps: 5
  funding_horizon_hours: 8
  rebalance_interval_seconds: 60
  stale_data_seconds: 120
  tracked_symbols: [BTC, ETH]
execution:
  order_notional: 1000
  slippage_bps: 5
  time_in_force: ioc
`
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Unset variable falls back to its default, set variable wins
	assert.Equal(t, "https://api.hyperliquid.xyz", cfg.Primary.BaseURL)
	assert.Equal(t, Secret("key-from-env"), cfg.Primary.Credentials.APIKey)
	assert.Equal(t, 2.0, cfg.PollIntervalSeconds)

	// Unspecified sections keep their defaults
	assert.Equal(t, "ioc", cfg.Execution.TimeInForce)
	assert.Equal(t, ".positions.json", cfg.Persistence.PositionFile)
	assert.Equal(t, 9090, cfg.Telemetry.MetricsPort)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: dev\npoll_interval_seconds: -1\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestProfilePath(t *testing.T) {
	assert.Equal(t, "configs/dev.yaml", ProfilePath(""))
	assert.Equal(t, "configs/prod.yaml", ProfilePath("prod"))
	assert.Equal(t, "configs/custom.yaml", ProfilePath("configs/custom.yaml"))
	assert.Equal(t, "/etc/arb/run.yaml", ProfilePath("/etc/arb/run.yaml"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-sensitive")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	assert.Equal(t, "", Secret("").String())
}
