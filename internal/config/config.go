// Package config defines all configuration for the tick-to-trade core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TT_* environment variables — same
// viper/mapstructure shape the teacher used, renamed from POLY to TT.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly onto the §6
// configuration surface. Every hot-path-relevant field here is a
// construction-time constant; nothing is re-read after the hot loop
// starts (§5 Memory: "sizes are configuration-time constants").
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	CoreID       int  `mapstructure:"core_id"`
	RTPriority   int  `mapstructure:"rt_priority"`
	UseHugePages bool `mapstructure:"use_huge_pages"`
	LockMemory   bool `mapstructure:"lock_memory"`

	RingCapacity int `mapstructure:"ring_capacity"`
	LOBDepth     int `mapstructure:"lob_depth"`

	Wire      WireConfig      `mapstructure:"wire"`
	Hawkes    HawkesConfig    `mapstructure:"hawkes"`
	Inference InferenceConfig `mapstructure:"inference"`
	AS        ASConfig        `mapstructure:"as_params"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Regime    RegimeConfig    `mapstructure:"regime_thresholds"`
	Router    RouterConfig    `mapstructure:"router"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// WireConfig names the one concrete wire schema shipped with the core
// (§6: "The core ships with one concrete schema").
type WireConfig struct {
	VenueID  uint16 `mapstructure:"venue_id"`
	TickSize string `mapstructure:"tick_size"` // e.g. "0.01"
}

// HawkesConfig mirrors §6's hawkes block.
type HawkesConfig struct {
	AlphaSelf  float64 `mapstructure:"alpha_self"`
	AlphaCross float64 `mapstructure:"alpha_cross"`
	Beta       float64 `mapstructure:"beta"`
	Gamma      float64 `mapstructure:"gamma"`
	LambdaBase float64 `mapstructure:"lambda_base"`
	HistoryLen int     `mapstructure:"history_len"`
	TauMaxSecs float64 `mapstructure:"tau_max_seconds"`
}

// InferenceConfig mirrors §6's inference_fixed_latency_ns field.
type InferenceConfig struct {
	FixedLatencyNanos int64 `mapstructure:"fixed_latency_ns"`
	Enforce           bool  `mapstructure:"enforce"` // Open Question (i): default true
}

// ASConfig mirrors §6's as_params block (Avellaneda-Stoikov inputs).
type ASConfig struct {
	GammaRisk      float64 `mapstructure:"gamma_risk"`
	Sigma2         float64 `mapstructure:"sigma2"`
	Kappa          float64 `mapstructure:"kappa"`
	HorizonSeconds float64 `mapstructure:"horizon_seconds"`
	SafetyMargin   float64 `mapstructure:"safety_margin"`
	BaseOrderSize  uint64  `mapstructure:"base_order_size"`
	MinOrderSize   uint64  `mapstructure:"min_order_size"`
}

// RiskConfig mirrors §6's risk block.
type RiskConfig struct {
	BaseMaxPosition   int64   `mapstructure:"base_max_position"`
	MaxOrderValue     float64 `mapstructure:"max_order_value"`
	MaxLossThreshold  int64   `mapstructure:"max_loss_threshold"`
	DailyMaxTrades    uint64  `mapstructure:"daily_max_trades"`
	ResetAuthCode     string  `mapstructure:"reset_auth_code"`
	PersistPath       string  `mapstructure:"persist_path"`
	PersistEveryTrade bool    `mapstructure:"persist_every_trade"`
}

// RegimeConfig mirrors §6's regime_thresholds block: volatility levels
// that move RiskState between Normal/Elevated/HighStress (§3).
// Multipliers are fixed by spec (1.0/0.7/0.4/0.0), not configurable.
type RegimeConfig struct {
	ElevatedVol   float64 `mapstructure:"elevated"`
	HighStressVol float64 `mapstructure:"high_stress"`
}

// RouterConfig mirrors §6's router block.
type RouterConfig struct {
	EMAAlpha            float64 `mapstructure:"ema_alpha"`
	SpikeK              float64 `mapstructure:"spike_k"`
	LatencySafetyMargin float64 `mapstructure:"latency_safety_margin"`
	WeightPrice         float64 `mapstructure:"weight_price"`
	WeightLatency       float64 `mapstructure:"weight_latency"`
	WeightLiquidity     float64 `mapstructure:"weight_liquidity"`
	TokenBucketRate     float64 `mapstructure:"token_bucket_rate_per_sec"`
	TokenBucketBurst    float64 `mapstructure:"token_bucket_burst"`
}

// SchedulerConfig mirrors §6's scheduler block.
type SchedulerConfig struct {
	Slots           int           `mapstructure:"slots"`
	SlotDuration    time.Duration `mapstructure:"slot_duration"`
	HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
}

// LoggerConfig mirrors §6's logger block.
type LoggerConfig struct {
	RingCapacity int    `mapstructure:"ring_capacity"`
	OutDir       string `mapstructure:"out_dir"`
	SignerKeyHex string `mapstructure:"signer_key_hex"` // manifest-signing private key, hex-encoded
}

// BacktestConfig mirrors §6's backtest block.
type BacktestConfig struct {
	Seed               int64   `mapstructure:"seed"`
	MinSimLatencyNanos int64   `mapstructure:"min_sim_latency_ns"`
	FillBase           float64 `mapstructure:"fill_base"`
	FillKQueue         float64 `mapstructure:"fill_k_queue"`
	FillKSpread        float64 `mapstructure:"fill_k_spread"`
	FillKVol           float64 `mapstructure:"fill_k_vol"`
	FillKLatency       float64 `mapstructure:"fill_k_latency"`
	BaseImpactBps      float64 `mapstructure:"base_impact_bps"`
	InputCSV           string  `mapstructure:"input_csv"`
}

// VenueConfig configures the thin REST execution-report collaborator
// (§1 non-goal, wired outside the core via internal/venue).
type VenueConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with TT_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TT_LOGGER_SIGNER_KEY_HEX"); key != "" {
		cfg.Logger.SignerKeyHex = key
	}
	if code := os.Getenv("TT_RISK_RESET_AUTH_CODE"); code != "" {
		cfg.Risk.ResetAuthCode = code
	}
	if os.Getenv("TT_DRY_RUN") == "true" || os.Getenv("TT_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Default returns the spec's documented defaults (§6), useful for tests.
// Load does not start from it: fields missing from the YAML file stay at
// their zero values.
func Default() Config {
	return Config{
		RingCapacity: 4096,
		LOBDepth:     10,
		Wire:         WireConfig{VenueID: 1, TickSize: "0.01"},
		Hawkes: HawkesConfig{
			AlphaSelf: 0.5, AlphaCross: 0.2, Beta: 0.05, Gamma: 1.3,
			LambdaBase: 0.1, HistoryLen: 1024, TauMaxSecs: 30,
		},
		Inference: InferenceConfig{FixedLatencyNanos: 400, Enforce: true},
		AS: ASConfig{
			GammaRisk: 0.1, Sigma2: 4.0, Kappa: 1.5, HorizonSeconds: 1.0,
			SafetyMargin: 0.1, BaseOrderSize: 10, MinOrderSize: 1,
		},
		Risk: RiskConfig{
			BaseMaxPosition: 1000, MaxOrderValue: 1_000_000,
			MaxLossThreshold: 1000, DailyMaxTrades: 100_000,
			ResetAuthCode: "EMERGENCY_RESET",
			PersistPath:   "./data/risk_state.json",
		},
		Regime: RegimeConfig{ElevatedVol: 2.0, HighStressVol: 4.0},
		Router: RouterConfig{
			EMAAlpha: 0.2, SpikeK: 2, LatencySafetyMargin: 0.8,
			WeightPrice: 0.5, WeightLatency: 0.3, WeightLiquidity: 0.2,
			TokenBucketRate: 50, TokenBucketBurst: 50,
		},
		Scheduler: SchedulerConfig{Slots: 1024, SlotDuration: 10 * time.Microsecond, HeartbeatPeriod: time.Second},
		Logger:    LoggerConfig{RingCapacity: 65536, OutDir: "./trace"},
		Backtest: BacktestConfig{
			Seed: 42, MinSimLatencyNanos: 500,
			FillBase: 0.4, FillKQueue: 0.3, FillKSpread: 0.2, FillKVol: 0.1, FillKLatency: 0.05,
			BaseImpactBps: 2,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.RingCapacity <= 0 || c.RingCapacity&(c.RingCapacity-1) != 0 {
		return fmt.Errorf("ring_capacity must be a positive power of two, got %d", c.RingCapacity)
	}
	if c.LOBDepth <= 0 {
		return fmt.Errorf("lob_depth must be > 0")
	}
	if c.Wire.TickSize == "" {
		return fmt.Errorf("wire.tick_size is required")
	}
	if c.Hawkes.Gamma <= 1 {
		return fmt.Errorf("hawkes.gamma must be > 1 (power-law kernel exponent)")
	}
	if c.Hawkes.HistoryLen <= 0 {
		return fmt.Errorf("hawkes.history_len must be > 0")
	}
	if c.AS.GammaRisk <= 0 {
		return fmt.Errorf("as_params.gamma_risk must be > 0")
	}
	if c.AS.Kappa <= 0 {
		return fmt.Errorf("as_params.kappa must be > 0")
	}
	if c.Risk.BaseMaxPosition <= 0 {
		return fmt.Errorf("risk.base_max_position must be > 0")
	}
	if c.Risk.ResetAuthCode == "" {
		return fmt.Errorf("risk.reset_auth_code is required")
	}
	w := c.Router.WeightPrice + c.Router.WeightLatency + c.Router.WeightLiquidity
	if w < 0.999 || w > 1.001 {
		return fmt.Errorf("router weights must sum to 1, got %v", w)
	}
	if c.Scheduler.Slots <= 0 {
		return fmt.Errorf("scheduler.slots must be > 0")
	}
	return nil
}
