package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"marketsim/internal/market"
)

// Duration wraps time.Duration so YAML accepts "5s" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Params tunes the simulation and execution engine. Zero values fall back to
// the engine defaults so a partial file only overrides what it names.
type Params struct {
	TickEvery          Duration `yaml:"tick_every"`
	ActivityResetEvery Duration `yaml:"activity_reset_every"`
	MaterialityPct     float64  `yaml:"materiality_pct"`
	EWMALambda         float64  `yaml:"ewma_lambda"`

	Fee struct {
		Mode        string  `yaml:"mode"` // percent, flat, mixed
		PercentRate float64 `yaml:"percent_rate"`
		FlatCredits float64 `yaml:"flat_credits"`
	} `yaml:"fee"`

	Slippage struct {
		BpsPerShare float64 `yaml:"bps_per_share"`
		MaxBps      float64 `yaml:"max_bps"`
	} `yaml:"slippage"`

	OrderTypes struct {
		Market *bool `yaml:"market"`
		Limit  *bool `yaml:"limit"`
		Stop   *bool `yaml:"stop"`
	} `yaml:"order_types"`

	CircuitBreaker struct {
		Enabled      *bool     `yaml:"enabled"`
		Levels       []float64 `yaml:"levels"`
		DurationsMin []int     `yaml:"durations_min"`
	} `yaml:"circuit_breaker"`

	RateLimit struct {
		Enabled              *bool    `yaml:"enabled"`
		MaxOrderShares       float64  `yaml:"max_order_shares"`
		Cooldown             Duration `yaml:"cooldown"`
		MaxNotionalPerMinute float64  `yaml:"max_notional_per_minute"` // credits
	} `yaml:"rate_limit"`
}

// LoadParams reads the YAML params file; an empty path yields the defaults.
func LoadParams(path string) (Params, error) {
	var p Params
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parse params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Params) Validate() error {
	if p.MaterialityPct < 0 {
		return fmt.Errorf("materiality_pct must be >= 0")
	}
	if p.EWMALambda < 0 || p.EWMALambda >= 1 {
		if p.EWMALambda != 0 {
			return fmt.Errorf("ewma_lambda must be in (0, 1)")
		}
	}
	if p.Fee.PercentRate < 0 || p.Fee.FlatCredits < 0 {
		return fmt.Errorf("fee rates must be >= 0")
	}
	if len(p.CircuitBreaker.Levels) != len(p.CircuitBreaker.DurationsMin) {
		return fmt.Errorf("circuit_breaker: levels and durations_min must pair up")
	}
	return nil
}

func (p Params) SchedulerConfig() market.SchedulerConfig {
	cfg := market.DefaultSchedulerConfig()
	if p.TickEvery > 0 {
		cfg.TickInterval = time.Duration(p.TickEvery)
	}
	if p.ActivityResetEvery > 0 {
		cfg.ActivityResetInterval = time.Duration(p.ActivityResetEvery)
	}
	if p.MaterialityPct > 0 {
		cfg.MaterialityThreshold = p.MaterialityPct
	}
	return cfg
}

func (p Params) AnalyticsConfig() market.AnalyticsConfig {
	cfg := market.DefaultAnalyticsConfig()
	if p.EWMALambda > 0 {
		cfg.Lambda = p.EWMALambda
	}
	return cfg
}

func (p Params) PipelineConfig() market.PipelineConfig {
	cfg := market.DefaultPipelineConfig()
	if p.Fee.Mode != "" {
		cfg.Fees.Mode = market.FeeMode(p.Fee.Mode)
	}
	if p.Fee.PercentRate > 0 {
		cfg.Fees.PercentRate = p.Fee.PercentRate
	}
	if p.Fee.FlatCredits > 0 {
		cfg.Fees.FlatMicros = market.CreditsToMicros(p.Fee.FlatCredits)
	}
	if p.Slippage.BpsPerShare > 0 {
		cfg.Slippage.BpsPerShare = p.Slippage.BpsPerShare
	}
	if p.Slippage.MaxBps > 0 {
		cfg.Slippage.MaxBps = p.Slippage.MaxBps
	}
	if p.OrderTypes.Market != nil {
		cfg.OrderTypes[market.OrderMarket] = *p.OrderTypes.Market
	}
	if p.OrderTypes.Limit != nil {
		cfg.OrderTypes[market.OrderLimit] = *p.OrderTypes.Limit
	}
	if p.OrderTypes.Stop != nil {
		cfg.OrderTypes[market.OrderStop] = *p.OrderTypes.Stop
	}
	return cfg
}

func (p Params) BreakerConfig() market.BreakerConfig {
	cfg := market.DefaultBreakerConfig()
	if p.CircuitBreaker.Enabled != nil {
		cfg.Enabled = *p.CircuitBreaker.Enabled
	}
	if len(p.CircuitBreaker.Levels) > 0 {
		cfg.Levels = p.CircuitBreaker.Levels
		cfg.Durations = market.ParseDurations(p.CircuitBreaker.DurationsMin)
	}
	return cfg
}

func (p Params) RateLimitConfig() market.RateLimitConfig {
	cfg := market.DefaultRateLimitConfig()
	if p.RateLimit.Enabled != nil {
		cfg.Enabled = *p.RateLimit.Enabled
	}
	if p.RateLimit.MaxOrderShares > 0 {
		cfg.MaxOrderUnits = int64(p.RateLimit.MaxOrderShares * float64(market.ShareScale))
	}
	if p.RateLimit.Cooldown > 0 {
		cfg.Cooldown = time.Duration(p.RateLimit.Cooldown)
	}
	if p.RateLimit.MaxNotionalPerMinute > 0 {
		cfg.MaxNotionalPerMinute = market.CreditsToMicros(p.RateLimit.MaxNotionalPerMinute)
	}
	return cfg
}
