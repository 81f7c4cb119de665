package market

import (
	"context"
	"math"
	"time"
)

// AnalyticsConfig carries the analytics defaults; Lambda is the EWMA decay.
type AnalyticsConfig struct {
	Lambda           float64
	MinSharpeSamples int
	RiskFreeDaily    float64
}

func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		Lambda:           0.94,
		MinSharpeSamples: 5,
		RiskFreeDaily:    0.0001,
	}
}

// Returns computes simple returns between consecutive price samples. Samples
// with a non-positive predecessor are skipped.
func Returns(points []PricePoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].PriceMicros
		if prev <= 0 {
			continue
		}
		out = append(out, float64(points[i].PriceMicros-prev)/float64(prev))
	}
	return out
}

// ChangePercent is the fractional change between the window's first sample and
// its latest; zero with no prior sample or a non-positive base.
func ChangePercent(points []PricePoint) float64 {
	if len(points) < 2 {
		return 0
	}
	base := points[0].PriceMicros
	if base <= 0 {
		return 0
	}
	return float64(points[len(points)-1].PriceMicros-base) / float64(base)
}

// EWMAVolatility estimates volatility over the window. Variance is seeded from
// the sample variance of the first two returns (or the squared first return
// when only one exists), then blended with var = lambda*var + (1-lambda)*r^2
// for every later return.
func EWMAVolatility(points []PricePoint, lambda float64) (float64, error) {
	rets := Returns(points)
	if len(rets) == 0 {
		return 0, ErrInsufficientSamples
	}

	var variance float64
	switch {
	case len(rets) == 1:
		variance = rets[0] * rets[0]
	default:
		m := (rets[0] + rets[1]) / 2
		variance = ((rets[0]-m)*(rets[0]-m) + (rets[1]-m)*(rets[1]-m)) / 2
		for _, r := range rets[2:] {
			variance = lambda*variance + (1-lambda)*r*r
		}
	}
	return math.Sqrt(variance), nil
}

// Correlation is the Pearson coefficient between two instruments' return
// series, aligned to the shorter length. Zero when either side has fewer than
// two points or the denominator degenerates.
func Correlation(a, b []PricePoint) (float64, error) {
	ra, rb := Returns(a), Returns(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 2 {
		return 0, ErrInsufficientSamples
	}
	ra, rb = ra[:n], rb[:n]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += ra[i]
		meanB += rb[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := ra[i]-meanA, rb[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom == 0 {
		return 0, nil
	}
	return cov / denom, nil
}

// PortfolioStats is the input contract for the Sharpe ratio: aggregated daily
// return statistics for one actor, produced by an external portfolio-history
// feed.
type PortfolioStats struct {
	MeanDailyReturn   float64
	StdDevDailyReturn float64
	Samples           int
}

// SharpeRatio is excess daily return over its standard deviation; zero below
// the minimum sample count or with a degenerate deviation.
func SharpeRatio(stats PortfolioStats, riskFreeDaily float64, minSamples int) float64 {
	if stats.Samples < minSamples || stats.StdDevDailyReturn == 0 {
		return 0
	}
	return (stats.MeanDailyReturn - riskFreeDaily) / stats.StdDevDailyReturn
}

// HistorySource feeds persisted price history into the analytics engine.
type HistorySource interface {
	PriceHistory(ctx context.Context, instrumentID int64, since time.Time) ([]PricePoint, error)
}

type Metrics struct {
	Change1h      float64 `json:"change_1h"`
	Change24h     float64 `json:"change_24h"`
	Volatility24h float64 `json:"volatility_24h"`
}

// Analytics derives rolling figures from persisted history.
type Analytics struct {
	cfg     AnalyticsConfig
	history HistorySource
}

func NewAnalytics(cfg AnalyticsConfig, history HistorySource) *Analytics {
	if cfg.Lambda <= 0 || cfg.Lambda >= 1 {
		cfg.Lambda = 0.94
	}
	if cfg.MinSharpeSamples <= 0 {
		cfg.MinSharpeSamples = 5
	}
	return &Analytics{cfg: cfg, history: history}
}

func (a *Analytics) Lambda() float64 { return a.cfg.Lambda }

// WindowMetrics computes change and volatility figures from a 24h window of
// points; latest, when non-zero, is treated as the newest sample so the
// scheduler can rate a price it has not yet persisted.
func (a *Analytics) WindowMetrics(points []PricePoint, latest PricePoint, now time.Time) (Metrics, error) {
	if latest.PriceMicros > 0 {
		points = append(append([]PricePoint(nil), points...), latest)
	}
	var m Metrics
	m.Change24h = ChangePercent(points)

	hourAgo := now.Add(-time.Hour)
	var lastHour []PricePoint
	for _, p := range points {
		if !p.TickAt.Before(hourAgo) {
			lastHour = append(lastHour, p)
		}
	}
	m.Change1h = ChangePercent(lastHour)

	vol, err := EWMAVolatility(points, a.cfg.Lambda)
	m.Volatility24h = vol
	return m, err
}

// InstrumentMetrics reads the last 24h of history for the instrument and rates
// it. Degradation is the caller's call: on error the metrics carry zeroes.
func (a *Analytics) InstrumentMetrics(ctx context.Context, instrumentID int64, now time.Time) (Metrics, error) {
	points, err := a.history.PriceHistory(ctx, instrumentID, now.Add(-24*time.Hour))
	if err != nil {
		return Metrics{}, err
	}
	return a.WindowMetrics(points, PricePoint{}, now)
}

// InstrumentCorrelation aligns two instruments' 24h return series.
func (a *Analytics) InstrumentCorrelation(ctx context.Context, idA, idB int64, now time.Time) (float64, error) {
	since := now.Add(-24 * time.Hour)
	pa, err := a.history.PriceHistory(ctx, idA, since)
	if err != nil {
		return 0, err
	}
	pb, err := a.history.PriceHistory(ctx, idB, since)
	if err != nil {
		return 0, err
	}
	return Correlation(pa, pb)
}

// ActorSharpe applies the configured risk-free rate and sample floor.
func (a *Analytics) ActorSharpe(stats PortfolioStats) float64 {
	return SharpeRatio(stats, a.cfg.RiskFreeDaily, a.cfg.MinSharpeSamples)
}
