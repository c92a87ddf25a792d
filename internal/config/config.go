package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every parameter of a simulation run. All fields are validated
// at startup; a bad combination never survives into the step loop.
type Config struct {
	// Capital
	InitialCapital float64 `yaml:"initial_capital"` // USD
	LpAllocation   float64 `yaml:"lp_allocation"`   // fraction of capital on the LP side, (0,1)

	// LP position
	RangeWidth             float64 `yaml:"range_width"`              // half-width of the liquidity range, (0,1)
	FeeAPR                 float64 `yaml:"fee_apr"`                  // full-range fee APR before concentration multiplier
	RebalanceThreshold     float64 `yaml:"rebalance_threshold"`      // skew drift from balanced that triggers a re-center, (0,0.5]
	RebalanceCooldownSteps int64   `yaml:"rebalance_cooldown_steps"` // min steps between range re-centers
	GasCost                float64 `yaml:"gas_cost"`                 // USD per rebalance
	SlippageBps            float64 `yaml:"slippage_bps"`             // bps of LP value per rebalance
	MinLiquidity           float64 `yaml:"min_liquidity"`            // clamp for near-zero liquidity

	// Hedge
	Deadband      float64 `yaml:"deadband"`       // base units of residual delta tolerated
	HedgeLeverage float64 `yaml:"hedge_leverage"` // >= 1
	TakerFeeBps   float64 `yaml:"taker_fee_bps"`  // bps of traded notional

	// Margin thresholds, per side. Maintenance must exceed liquidation.
	// The LP ratio is equity over entry cost basis and hovers near 1.0, so
	// its thresholds sit below 1; the hedge ratio is equity over used margin
	// at leverage, so its thresholds sit above 1.
	LpMaintenanceRatio    float64 `yaml:"lp_maintenance_ratio"`
	LpLiquidationRatio    float64 `yaml:"lp_liquidation_ratio"`
	HedgeMaintenanceRatio float64 `yaml:"hedge_maintenance_ratio"`
	HedgeLiquidationRatio float64 `yaml:"hedge_liquidation_ratio"`

	// Rescue circuit breaker
	RescueLimitPerWindow float64 `yaml:"rescue_limit_per_window"` // USD per window
	RescueWindowSteps    int64   `yaml:"rescue_window_steps"`     // window duration in steps
	RescueTargetRatio    float64 `yaml:"rescue_target_ratio"`     // restore distressed side to this ratio
	RescueLifetimeLimit  float64 `yaml:"rescue_lifetime_limit"`   // USD for the whole run, 0 = unbounded

	// Funding
	FundingRate          float64 `yaml:"funding_rate"`           // per interval, applied to hedge notional
	FundingIntervalSteps int64   `yaml:"funding_interval_steps"` // steps per funding settlement

	// Run
	MaxSteps    int64   `yaml:"max_steps"` // 0 = until feed exhaustion
	StepMinutes float64 `yaml:"step_minutes"`
	Verbose     bool    `yaml:"verbose"` // log NoAction records too

	Feed  FeedConfig `yaml:"feed"`
	Sinks SinkConfig `yaml:"sinks"`
}

// FeedConfig selects and parameterizes the price source.
type FeedConfig struct {
	Kind         string  `yaml:"kind"` // "synthetic" or "csv"
	Seed         int64   `yaml:"seed"`
	InitialPrice float64 `yaml:"initial_price"`
	Drift        float64 `yaml:"drift"`      // annualized mu
	Volatility   float64 `yaml:"volatility"` // annualized sigma
	CSVPath      string  `yaml:"csv_path"`
}

// SinkConfig enables optional output surfaces. Empty values disable a sink.
type SinkConfig struct {
	EventsCSVPath string `yaml:"events_csv_path"`
	StepsCSVPath  string `yaml:"steps_csv_path"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	NATSURL       string `yaml:"nats_url"`
	MetricsAddr   string `yaml:"metrics_addr"`
}

const (
	FeedKindSynthetic = "synthetic"
	FeedKindCSV       = "csv"
)

// Default returns a runnable baseline scenario: 1M USD, 60/40 split, a 10%-wide
// range on a 3000 USD asset, minute steps.
func Default() Config {
	return Config{
		InitialCapital: 1_000_000,
		LpAllocation:   0.6,

		RangeWidth:             0.10,
		FeeAPR:                 0.18,
		RebalanceThreshold:     0.20,
		RebalanceCooldownSteps: 60,
		GasCost:                25,
		SlippageBps:            5,
		MinLiquidity:           1e-9,

		Deadband:      0.5,
		HedgeLeverage: 5,
		TakerFeeBps:   5,

		LpMaintenanceRatio:    0.95,
		LpLiquidationRatio:    0.85,
		HedgeMaintenanceRatio: 1.10,
		HedgeLiquidationRatio: 1.00,

		RescueLimitPerWindow: 50_000,
		RescueWindowSteps:    1_440, // one simulated day at minute steps
		RescueTargetRatio:    1.25,
		RescueLifetimeLimit:  0,

		FundingRate:          0.0001, // 1bp per interval
		FundingIntervalSteps: 480,    // 8h at minute steps

		MaxSteps:    0,
		StepMinutes: 1,
		Verbose:     false,

		Feed: FeedConfig{
			Kind:         FeedKindSynthetic,
			Seed:         42,
			InitialPrice: 3_000,
			Drift:        0,
			Volatility:   0.6,
		},
	}
}

// Load reads a scenario YAML file over the defaults and applies environment
// overrides for the operational fields.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read scenario file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse scenario file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays HEDGESIM_* environment variables on the sink settings.
// Scenario parameters stay in the file; only deployment-specific endpoints
// come from the environment.
func (c *Config) applyEnv() {
	c.Sinks.PostgresDSN = envOrDefault("HEDGESIM_POSTGRES_DSN", c.Sinks.PostgresDSN)
	c.Sinks.NATSURL = envOrDefault("HEDGESIM_NATS_URL", c.Sinks.NATSURL)
	c.Sinks.MetricsAddr = envOrDefault("HEDGESIM_METRICS_ADDR", c.Sinks.MetricsAddr)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// StepDuration returns the simulated wall time per step.
func (c Config) StepDuration() time.Duration {
	return time.Duration(c.StepMinutes * float64(time.Minute))
}

// StepYears returns the step length as a fraction of a year, the dt of the
// fee-accrual and GBM formulas.
func (c Config) StepYears() float64 {
	return c.StepMinutes / (365 * 24 * 60)
}

// ValidationError names the offending field so startup failures are actionable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every parameter combination the engine relies on.
// It runs once at startup; violations never surface mid-run.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return invalid("initial_capital", "must be > 0, got %v", c.InitialCapital)
	}
	if c.LpAllocation <= 0 || c.LpAllocation >= 1 {
		return invalid("lp_allocation", "must be in (0,1), got %v", c.LpAllocation)
	}

	if c.RangeWidth <= 0 || c.RangeWidth >= 1 {
		return invalid("range_width", "must be in (0,1), got %v", c.RangeWidth)
	}
	if c.FeeAPR < 0 {
		return invalid("fee_apr", "must be >= 0, got %v", c.FeeAPR)
	}
	if c.RebalanceThreshold <= 0 || c.RebalanceThreshold > 0.5 {
		return invalid("rebalance_threshold", "must be in (0,0.5], got %v", c.RebalanceThreshold)
	}
	if c.RebalanceCooldownSteps < 0 {
		return invalid("rebalance_cooldown_steps", "must be >= 0, got %d", c.RebalanceCooldownSteps)
	}
	if c.GasCost < 0 {
		return invalid("gas_cost", "must be >= 0, got %v", c.GasCost)
	}
	if c.SlippageBps < 0 {
		return invalid("slippage_bps", "must be >= 0, got %v", c.SlippageBps)
	}
	if c.MinLiquidity <= 0 {
		return invalid("min_liquidity", "must be > 0, got %v", c.MinLiquidity)
	}

	if c.Deadband < 0 {
		return invalid("deadband", "must be >= 0, got %v", c.Deadband)
	}
	if c.HedgeLeverage < 1 {
		return invalid("hedge_leverage", "must be >= 1, got %v", c.HedgeLeverage)
	}
	if c.TakerFeeBps < 0 {
		return invalid("taker_fee_bps", "must be >= 0, got %v", c.TakerFeeBps)
	}

	if c.LpLiquidationRatio <= 0 {
		return invalid("lp_liquidation_ratio", "must be > 0, got %v", c.LpLiquidationRatio)
	}
	if c.LpLiquidationRatio >= c.LpMaintenanceRatio {
		return invalid("lp_liquidation_ratio", "must be < lp_maintenance_ratio (%v), got %v",
			c.LpMaintenanceRatio, c.LpLiquidationRatio)
	}
	if c.HedgeLiquidationRatio <= 0 {
		return invalid("hedge_liquidation_ratio", "must be > 0, got %v", c.HedgeLiquidationRatio)
	}
	if c.HedgeLiquidationRatio >= c.HedgeMaintenanceRatio {
		return invalid("hedge_liquidation_ratio", "must be < hedge_maintenance_ratio (%v), got %v",
			c.HedgeMaintenanceRatio, c.HedgeLiquidationRatio)
	}

	if c.RescueLimitPerWindow < 0 {
		return invalid("rescue_limit_per_window", "must be >= 0, got %v", c.RescueLimitPerWindow)
	}
	if c.RescueWindowSteps <= 0 {
		return invalid("rescue_window_steps", "must be > 0, got %d", c.RescueWindowSteps)
	}
	if c.RescueTargetRatio <= c.HedgeMaintenanceRatio {
		return invalid("rescue_target_ratio",
			"must exceed hedge_maintenance_ratio (%v), got %v",
			c.HedgeMaintenanceRatio, c.RescueTargetRatio)
	}
	if c.RescueLifetimeLimit < 0 {
		return invalid("rescue_lifetime_limit", "must be >= 0, got %v", c.RescueLifetimeLimit)
	}

	if c.FundingIntervalSteps <= 0 {
		return invalid("funding_interval_steps", "must be > 0, got %d", c.FundingIntervalSteps)
	}

	if c.MaxSteps < 0 {
		return invalid("max_steps", "must be >= 0, got %d", c.MaxSteps)
	}
	if c.StepMinutes <= 0 {
		return invalid("step_minutes", "must be > 0, got %v", c.StepMinutes)
	}

	switch c.Feed.Kind {
	case FeedKindSynthetic:
		if c.Feed.InitialPrice <= 0 {
			return invalid("feed.initial_price", "must be > 0, got %v", c.Feed.InitialPrice)
		}
		if c.Feed.Volatility < 0 {
			return invalid("feed.volatility", "must be >= 0, got %v", c.Feed.Volatility)
		}
		if c.MaxSteps == 0 {
			return invalid("max_steps", "must be > 0 for a synthetic feed (it never ends)")
		}
	case FeedKindCSV:
		if c.Feed.CSVPath == "" {
			return invalid("feed.csv_path", "required when feed.kind is %q", FeedKindCSV)
		}
	default:
		return invalid("feed.kind", "must be %q or %q, got %q",
			FeedKindSynthetic, FeedKindCSV, c.Feed.Kind)
	}

	return nil
}
