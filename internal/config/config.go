// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Environment         string  `yaml:"environment"`
	BaseCurrency        string  `yaml:"base_currency"`
	PollIntervalSeconds float64 `yaml:"poll_interval_seconds"`

	Primary VenueConfig `yaml:"primary"`
	Hedge   VenueConfig `yaml:"hedge"`

	Risk      RiskLimits      `yaml:"risk"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Execution ExecutionConfig `yaml:"execution"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	LogLevel    string            `yaml:"log_level"`
}

// VenueConfig contains per-venue connection settings
type VenueConfig struct {
	Name         string           `yaml:"name"`
	BaseURL      string           `yaml:"base_url"`
	WebsocketURL string           `yaml:"websocket_url"`
	Symbols      []string         `yaml:"symbols"`
	AccountID    string           `yaml:"account_id"`
	Credentials  VenueCredentials `yaml:"credentials"`
}

// VenueCredentials holds the authentication material for one venue
type VenueCredentials struct {
	APIKey        Secret `yaml:"api_key"`
	APISecret     Secret `yaml:"api_secret"`
	APIPassphrase Secret `yaml:"api_passphrase"`
	PrivateKey    Secret `yaml:"private_key"`
}

// RiskLimits contains global and per-symbol risk limits
type RiskLimits struct {
	MaxTotalNotional  float64 `yaml:"max_total_notional"`
	MaxSymbolNotional float64 `yaml:"max_symbol_notional"`
	MaxPositions      int     `yaml:"max_positions"`
	MaxLeverage       float64 `yaml:"max_leverage"`
	MarginBufferRatio float64 `yaml:"margin_buffer_ratio"`
	DriftThresholdBps float64 `yaml:"drift_threshold_bps"`
}

// StrategyConfig contains the entry/exit thresholds and polling cadence
type StrategyConfig struct {
	MinEdgeBps               float64  `yaml:"min_edge_bps"`
	ExitEdgeBps              float64  `yaml:"exit_edge_bps"`
	FundingHorizonHours      float64  `yaml:"funding_horizon_hours"`
	RebalanceIntervalSeconds int      `yaml:"rebalance_interval_seconds"`
	StaleDataSeconds         int      `yaml:"stale_data_seconds"`
	TrackedSymbols           []string `yaml:"tracked_symbols"`
}

// ExecutionConfig contains order placement parameters
type ExecutionConfig struct {
	OrderNotional float64 `yaml:"order_notional"`
	SlippageBps   float64 `yaml:"slippage_bps"`
	TimeInForce   string  `yaml:"time_in_force"`
}

// PersistenceConfig locates the durable state files
type PersistenceConfig struct {
	PositionFile  string `yaml:"position_file"`
	PnLFile       string `yaml:"pnl_file"`
	FundingDBFile string `yaml:"funding_db_file"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := defaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ProfilePath resolves a profile name ("prod") to its config file path.
// A name containing a path separator or .yaml suffix is used verbatim.
func ProfilePath(profile string) string {
	if profile == "" {
		return "configs/dev.yaml"
	}
	if strings.ContainsAny(profile, "/.") {
		return profile
	}
	return fmt.Sprintf("configs/%s.yaml", profile)
}

func defaultConfig() *Config {
	return &Config{
		Environment:         "dev",
		BaseCurrency:        "USDC",
		PollIntervalSeconds: 1.0,
		LogLevel:            "INFO",
		Execution: ExecutionConfig{
			SlippageBps: 5.0,
			TimeInForce: "ioc",
		},
		Risk: RiskLimits{
			MaxPositions: 5,
		},
		Persistence: PersistenceConfig{
			PositionFile:  ".positions.json",
			PnLFile:       ".pnl_state.json",
			FundingDBFile: ".funding_history.db",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	switch c.Environment {
	case "prod", "staging", "dev":
	default:
		errs = append(errs, ValidationError{"environment", c.Environment, "must be one of prod, staging, dev"}.Error())
	}

	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, ValidationError{"poll_interval_seconds", c.PollIntervalSeconds, "must be positive"}.Error())
	}

	if err := c.Primary.validate("primary"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Hedge.validate("hedge"); err != nil {
		errs = append(errs, err.Error())
	}

	if err := c.Risk.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Strategy.validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Execution.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (v *VenueConfig) validate(which string) error {
	if v.Name == "" {
		return ValidationError{which + ".name", v.Name, "is required"}
	}
	if v.BaseURL == "" {
		return ValidationError{which + ".base_url", v.BaseURL, "is required"}
	}
	return nil
}

func (r *RiskLimits) validate() error {
	if r.MaxTotalNotional <= 0 {
		return ValidationError{"risk.max_total_notional", r.MaxTotalNotional, "must be positive"}
	}
	if r.MaxSymbolNotional <= 0 {
		return ValidationError{"risk.max_symbol_notional", r.MaxSymbolNotional, "must be positive"}
	}
	if r.MaxPositions <= 0 {
		return ValidationError{"risk.max_positions", r.MaxPositions, "must be positive"}
	}
	if r.MaxLeverage <= 0 {
		return ValidationError{"risk.max_leverage", r.MaxLeverage, "must be positive"}
	}
	if r.MarginBufferRatio <= 0 || r.MarginBufferRatio >= 1 {
		return ValidationError{"risk.margin_buffer_ratio", r.MarginBufferRatio, "must be in (0, 1)"}
	}
	if r.DriftThresholdBps <= 0 {
		return ValidationError{"risk.drift_threshold_bps", r.DriftThresholdBps, "must be positive"}
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.MinEdgeBps <= 0 {
		return ValidationError{"strategy.min_edge_bps", s.MinEdgeBps, "must be positive"}
	}
	if s.ExitEdgeBps <= 0 {
		return ValidationError{"strategy.exit_edge_bps", s.ExitEdgeBps, "must be positive"}
	}
	// Hysteresis is mandatory: exit must sit strictly below entry
	if s.ExitEdgeBps >= s.MinEdgeBps {
		return ValidationError{"strategy.exit_edge_bps", s.ExitEdgeBps, "must be less than min_edge_bps"}
	}
	if s.FundingHorizonHours <= 0 {
		return ValidationError{"strategy.funding_horizon_hours", s.FundingHorizonHours, "must be positive"}
	}
	if s.RebalanceIntervalSeconds <= 0 {
		return ValidationError{"strategy.rebalance_interval_seconds", s.RebalanceIntervalSeconds, "must be positive"}
	}
	if s.StaleDataSeconds <= 0 {
		return ValidationError{"strategy.stale_data_seconds", s.StaleDataSeconds, "must be positive"}
	}
	if len(s.TrackedSymbols) == 0 {
		return ValidationError{"strategy.tracked_symbols", s.TrackedSymbols, "at least one symbol required"}
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.OrderNotional <= 0 {
		return ValidationError{"execution.order_notional", e.OrderNotional, "must be positive"}
	}
	if e.SlippageBps <= 0 {
		return ValidationError{"execution.slippage_bps", e.SlippageBps, "must be positive"}
	}
	switch e.TimeInForce {
	case "ioc", "gtt", "post_only":
	default:
		return ValidationError{"execution.time_in_force", e.TimeInForce, "must be one of ioc, gtt, post_only"}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} references in the YAML text
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return def
	})
}
