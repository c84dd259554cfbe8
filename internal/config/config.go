// Package config provides configuration management for the earnings
// calendar-spread bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Sizing and monitoring defaults applied when the corresponding keys are unset.
const (
	defaultBasePositionPct    = 5.0
	defaultBonusPositionPct   = 1.0
	defaultMaxDailyAllocation = 30.0
	defaultMaxTradeEquityPct  = 0.08

	defaultRepriceWindowMin = 10
	defaultForceWindowMin   = 13
	defaultDriftThreshold   = 0.0005
	// defaultExitDiscount is the fraction shaved off fair value when an exit
	// order is re-priced aggressively in the force window.
	defaultExitDiscount = 0.03

	defaultCacheTTL        = 5 * time.Minute
	defaultCacheMaxEntries = 200
	defaultWorkerCount     = 10

	defaultATMThresholdPct = 0.02
)

// IVRatioFallback selects the behavior when option IV is unavailable for the
// IV-ratio gatekeeper.
type IVRatioFallback string

const (
	// FallbackNone fails the filter when option IV is missing.
	FallbackNone IVRatioFallback = "none"
	// FallbackHVProxy substitutes realized volatility for missing IV.
	FallbackHVProxy IVRatioFallback = "hv_proxy"
)

// StrikeFallback selects the common-strike policy when the two legs share no
// strikes.
type StrikeFallback string

const (
	// StrikeStrict fails the selection outright.
	StrikeStrict StrikeFallback = "strict"
	// StrikeUnion retries against the union of both legs' strikes.
	StrikeUnion StrikeFallback = "union"
)

// EntryMarketPolicy selects what the monitor does with entry orders that
// survive past the force window.
type EntryMarketPolicy string

const (
	// EntryMarketNoop leaves stale entry orders untouched and logs a warning.
	EntryMarketNoop EntryMarketPolicy = "noop"
	// EntryMarketCancel cancels stale entry orders.
	EntryMarketCancel EntryMarketPolicy = "cancel"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Earnings    EarningsConfig    `yaml:"earnings"`
	Scan        ScanConfig        `yaml:"scan"`
	Filters     FiltersConfig     `yaml:"filters"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Cache       CacheConfig       `yaml:"cache"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines brokerage API settings.
type BrokerConfig struct {
	APIKey          string  `yaml:"api_key"`
	APISecret       string  `yaml:"api_secret"`
	TradingEndpoint string  `yaml:"trading_endpoint"` // optional override
	DataEndpoint    string  `yaml:"data_endpoint"`    // optional override
	Timeout         string  `yaml:"timeout"`          // default 30s
	MaxRetries      int     `yaml:"max_retries"`      // 429 retry cap, default 3
	RequestsPerSec  float64 `yaml:"requests_per_sec"` // client-side rate limit, default 3
}

// EarningsConfig defines the earnings-calendar data source.
type EarningsConfig struct {
	APIToken string `yaml:"api_token"`
	Endpoint string `yaml:"endpoint"` // optional override
}

// ScanConfig defines the ticker universe and evaluation fan-out.
type ScanConfig struct {
	Tickers           []string `yaml:"tickers"`
	WorkerCount       int      `yaml:"worker_count"`
	LongLegTargetDays []int    `yaml:"long_leg_target_days"` // default [30, 60]
}

// FiltersConfig groups the gatekeeper thresholds.
type FiltersConfig struct {
	Liquidity       LiquidityConfig       `yaml:"liquidity"`
	IVRatio         IVRatioConfig         `yaml:"iv_ratio"`
	TermStructure   TermStructureConfig   `yaml:"term_structure"`
	ExecutionSpread ExecutionSpreadConfig `yaml:"execution_spread"`
	VolCrush        VolCrushConfig        `yaml:"volatility_crush"`
	Stability       StabilityConfig       `yaml:"earnings_stability"`
	ATMThresholdPct float64               `yaml:"atm_threshold_pct"` // default 0.02
	StrikeFallback  StrikeFallback        `yaml:"strike_fallback"`   // strict | union
}

// LiquidityConfig defines the liquidity gatekeeper thresholds.
type LiquidityConfig struct {
	MinAvgVolume    int64   `yaml:"min_avg_volume"`
	MinPrice        float64 `yaml:"min_price"`
	MaxPrice        float64 `yaml:"max_price"`
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`
	MinQuoteDepth   int     `yaml:"min_quote_depth"`
	MinOptionTrades int     `yaml:"min_option_trades"`
}

// IVRatioConfig defines the IV-ratio gatekeeper.
type IVRatioConfig struct {
	Threshold float64         `yaml:"threshold"` // e.g. 1.2
	Fallback  IVRatioFallback `yaml:"fallback"`  // none | hv_proxy
}

// TermStructureConfig defines the term-structure gatekeeper.
type TermStructureConfig struct {
	SlopeThreshold float64 `yaml:"slope_threshold"`    // IV slope, default 0.01
	HVSlope        float64 `yaml:"hv_slope_threshold"` // rv60-rv30 bound, default -0.01
}

// ExecutionSpreadConfig defines the execution-spread gatekeeper.
type ExecutionSpreadConfig struct {
	MaxDebitRatio float64 `yaml:"max_debit_ratio"` // default 0.04
}

// VolCrushConfig defines the optional volatility-crush scoring filter.
type VolCrushConfig struct {
	CrushRatio     float64 `yaml:"crush_ratio"`     // default 0.80
	MinFrequency   float64 `yaml:"min_frequency"`   // default 0.70
	LookbackEvents int     `yaml:"lookback_events"` // default 8
}

// StabilityConfig defines the optional earnings-stability scoring filter.
type StabilityConfig struct {
	MoveThreshold         float64 `yaml:"move_threshold"`          // default 0.05
	StabilityThreshold    float64 `yaml:"stability_threshold"`     // default 0.65
	ImpliedMoveMultiplier float64 `yaml:"implied_move_multiplier"` // default 1.5
}

// SizingConfig defines position sizing.
type SizingConfig struct {
	BasePct           float64 `yaml:"base_pct"`             // default 5.0
	BonusPct          float64 `yaml:"bonus_pct"`            // default 1.0
	MaxDailyAllocPct  float64 `yaml:"max_daily_alloc_pct"`  // default 30.0
	MaxTradeEquityPct float64 `yaml:"max_trade_equity_pct"` // default 0.08
}

// MonitorConfig defines the order-lifecycle monitor windows.
type MonitorConfig struct {
	RepriceWindowMin      int               `yaml:"reprice_window_min"`      // default 10
	ForceWindowMin        int               `yaml:"force_window_min"`        // default 13
	DriftThreshold        float64           `yaml:"drift_threshold"`         // default 0.0005
	ExitDiscount          float64           `yaml:"exit_discount"`           // default 0.03
	CancelConfirmAttempts int               `yaml:"cancel_confirm_attempts"` // default 10
	EntryMarketPolicy     EntryMarketPolicy `yaml:"entry_market_policy"`     // noop | cancel
}

// CacheConfig bounds the per-scan fetch cache.
type CacheConfig struct {
	TTL        string `yaml:"ttl"`         // default 5m
	MaxEntries int    `yaml:"max_entries"` // default 200
}

// ScheduleConfig defines the cycle intervals.
type ScheduleConfig struct {
	Timezone        string `yaml:"timezone"`         // default America/New_York
	ScanInterval    string `yaml:"scan_interval"`    // default 1h
	MonitorInterval string `yaml:"monitor_interval"` // default 1m
}

// StorageConfig defines decision persistence.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the JSON dashboard server.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// applying defaults first.
func (c *Config) Validate() error {
	c.normalize()

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}
	if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
		return fmt.Errorf("broker.timeout invalid: %w", err)
	}
	if c.Broker.MaxRetries < 0 {
		return fmt.Errorf("broker.max_retries must be >= 0")
	}

	if len(c.Scan.Tickers) == 0 {
		return fmt.Errorf("scan.tickers must not be empty")
	}
	if c.Scan.WorkerCount <= 0 {
		return fmt.Errorf("scan.worker_count must be > 0")
	}
	for _, d := range c.Scan.LongLegTargetDays {
		if d <= 0 {
			return fmt.Errorf("scan.long_leg_target_days entries must be > 0")
		}
	}

	liq := c.Filters.Liquidity
	if liq.MinAvgVolume <= 0 {
		return fmt.Errorf("filters.liquidity.min_avg_volume must be > 0")
	}
	if liq.MinPrice <= 0 || liq.MaxPrice <= liq.MinPrice {
		return fmt.Errorf("filters.liquidity price range must satisfy 0 < min < max")
	}
	if liq.MaxSpreadPct <= 0 || liq.MaxSpreadPct >= 1 {
		return fmt.Errorf("filters.liquidity.max_spread_pct must be in (0,1)")
	}

	if c.Filters.IVRatio.Threshold <= 0 {
		return fmt.Errorf("filters.iv_ratio.threshold must be > 0")
	}
	switch c.Filters.IVRatio.Fallback {
	case FallbackNone, FallbackHVProxy:
	default:
		return fmt.Errorf("filters.iv_ratio.fallback must be 'none' or 'hv_proxy'")
	}
	switch c.Filters.StrikeFallback {
	case StrikeStrict, StrikeUnion:
	default:
		return fmt.Errorf("filters.strike_fallback must be 'strict' or 'union'")
	}
	if c.Filters.TermStructure.HVSlope >= 0 {
		return fmt.Errorf("filters.term_structure.hv_slope_threshold must be < 0")
	}
	if c.Filters.ExecutionSpread.MaxDebitRatio <= 0 {
		return fmt.Errorf("filters.execution_spread.max_debit_ratio must be > 0")
	}
	if r := c.Filters.VolCrush.CrushRatio; r <= 0 || r >= 1 {
		return fmt.Errorf("filters.volatility_crush.crush_ratio must be in (0,1)")
	}
	if f := c.Filters.VolCrush.MinFrequency; f <= 0 || f > 1 {
		return fmt.Errorf("filters.volatility_crush.min_frequency must be in (0,1]")
	}
	if m := c.Filters.Stability.MoveThreshold; m <= 0 || m >= 1 {
		return fmt.Errorf("filters.earnings_stability.move_threshold must be in (0,1)")
	}
	if s := c.Filters.Stability.StabilityThreshold; s <= 0 || s > 1 {
		return fmt.Errorf("filters.earnings_stability.stability_threshold must be in (0,1]")
	}
	if c.Filters.Stability.ImpliedMoveMultiplier <= 0 {
		return fmt.Errorf("filters.earnings_stability.implied_move_multiplier must be > 0")
	}
	if a := c.Filters.ATMThresholdPct; a <= 0 || a >= 1 {
		return fmt.Errorf("filters.atm_threshold_pct must be in (0,1)")
	}

	if c.Sizing.BasePct <= 0 {
		return fmt.Errorf("sizing.base_pct must be > 0")
	}
	if c.Sizing.BonusPct < 0 {
		return fmt.Errorf("sizing.bonus_pct must be >= 0")
	}
	if c.Sizing.MaxDailyAllocPct < c.Sizing.BasePct {
		return fmt.Errorf("sizing.max_daily_alloc_pct (%.1f) must be >= sizing.base_pct (%.1f)",
			c.Sizing.MaxDailyAllocPct, c.Sizing.BasePct)
	}
	if e := c.Sizing.MaxTradeEquityPct; e <= 0 || e > 1 {
		return fmt.Errorf("sizing.max_trade_equity_pct must be in (0,1]")
	}

	if c.Monitor.RepriceWindowMin <= 0 {
		return fmt.Errorf("monitor.reprice_window_min must be > 0")
	}
	if c.Monitor.ForceWindowMin <= c.Monitor.RepriceWindowMin {
		return fmt.Errorf("monitor.force_window_min (%d) must be > monitor.reprice_window_min (%d)",
			c.Monitor.ForceWindowMin, c.Monitor.RepriceWindowMin)
	}
	if c.Monitor.DriftThreshold <= 0 {
		return fmt.Errorf("monitor.drift_threshold must be > 0")
	}
	if d := c.Monitor.ExitDiscount; d <= 0 || d >= 1 {
		return fmt.Errorf("monitor.exit_discount must be in (0,1)")
	}
	if c.Monitor.CancelConfirmAttempts <= 0 {
		return fmt.Errorf("monitor.cancel_confirm_attempts must be > 0")
	}
	switch c.Monitor.EntryMarketPolicy {
	case EntryMarketNoop, EntryMarketCancel:
	default:
		return fmt.Errorf("monitor.entry_market_policy must be 'noop' or 'cancel'")
	}

	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl invalid: %w", err)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}

	if _, err := time.ParseDuration(c.Schedule.ScanInterval); err != nil {
		return fmt.Errorf("schedule.scan_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.MonitorInterval); err != nil {
		return fmt.Errorf("schedule.monitor_interval invalid: %w", err)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// normalize applies defaults for unset values.
func (c *Config) normalize() {
	if c.Broker.Timeout == "" {
		c.Broker.Timeout = "30s"
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.RequestsPerSec == 0 {
		c.Broker.RequestsPerSec = 3
	}
	if c.Scan.WorkerCount == 0 {
		c.Scan.WorkerCount = defaultWorkerCount
	}
	if len(c.Scan.LongLegTargetDays) == 0 {
		c.Scan.LongLegTargetDays = []int{30, 60}
	}
	if c.Filters.IVRatio.Fallback == "" {
		c.Filters.IVRatio.Fallback = FallbackNone
	}
	if c.Filters.StrikeFallback == "" {
		c.Filters.StrikeFallback = StrikeStrict
	}
	if c.Filters.TermStructure.SlopeThreshold == 0 {
		c.Filters.TermStructure.SlopeThreshold = 0.01
	}
	if c.Filters.TermStructure.HVSlope == 0 {
		c.Filters.TermStructure.HVSlope = -0.01
	}
	if c.Filters.ExecutionSpread.MaxDebitRatio == 0 {
		c.Filters.ExecutionSpread.MaxDebitRatio = 0.04
	}
	if c.Filters.VolCrush.CrushRatio == 0 {
		c.Filters.VolCrush.CrushRatio = 0.80
	}
	if c.Filters.VolCrush.MinFrequency == 0 {
		c.Filters.VolCrush.MinFrequency = 0.70
	}
	if c.Filters.VolCrush.LookbackEvents == 0 {
		c.Filters.VolCrush.LookbackEvents = 8
	}
	if c.Filters.Stability.MoveThreshold == 0 {
		c.Filters.Stability.MoveThreshold = 0.05
	}
	if c.Filters.Stability.StabilityThreshold == 0 {
		c.Filters.Stability.StabilityThreshold = 0.65
	}
	if c.Filters.Stability.ImpliedMoveMultiplier == 0 {
		c.Filters.Stability.ImpliedMoveMultiplier = 1.5
	}
	if c.Filters.ATMThresholdPct == 0 {
		c.Filters.ATMThresholdPct = defaultATMThresholdPct
	}
	if c.Sizing.BasePct == 0 {
		c.Sizing.BasePct = defaultBasePositionPct
	}
	if c.Sizing.BonusPct == 0 {
		c.Sizing.BonusPct = defaultBonusPositionPct
	}
	if c.Sizing.MaxDailyAllocPct == 0 {
		c.Sizing.MaxDailyAllocPct = defaultMaxDailyAllocation
	}
	if c.Sizing.MaxTradeEquityPct == 0 {
		c.Sizing.MaxTradeEquityPct = defaultMaxTradeEquityPct
	}
	if c.Monitor.RepriceWindowMin == 0 {
		c.Monitor.RepriceWindowMin = defaultRepriceWindowMin
	}
	if c.Monitor.ForceWindowMin == 0 {
		c.Monitor.ForceWindowMin = defaultForceWindowMin
	}
	if c.Monitor.DriftThreshold == 0 {
		c.Monitor.DriftThreshold = defaultDriftThreshold
	}
	if c.Monitor.ExitDiscount == 0 {
		c.Monitor.ExitDiscount = defaultExitDiscount
	}
	if c.Monitor.CancelConfirmAttempts == 0 {
		c.Monitor.CancelConfirmAttempts = 10
	}
	if c.Monitor.EntryMarketPolicy == "" {
		c.Monitor.EntryMarketPolicy = EntryMarketNoop
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = defaultCacheTTL.String()
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = defaultCacheMaxEntries
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "America/New_York"
	}
	if c.Schedule.ScanInterval == "" {
		c.Schedule.ScanInterval = "1h"
	}
	if c.Schedule.MonitorInterval == "" {
		c.Schedule.MonitorInterval = "1m"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// BrokerTimeout returns the configured HTTP timeout for brokerage calls.
func (c *Config) BrokerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CacheTTL returns the configured cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return defaultCacheTTL
	}
	return d
}

// ScanInterval returns the configured scan cycle interval.
func (c *Config) ScanInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.ScanInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// MonitorInterval returns the configured monitor cycle interval.
func (c *Config) MonitorInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.MonitorInterval)
	if err != nil {
		return time.Minute
	}
	return d
}
