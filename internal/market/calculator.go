package market

import "math"

// CalculatorConfig bounds a single simulation step.
type CalculatorConfig struct {
	MaxDeltaPerTick float64 // cap on |sentiment x rating x noise|
	MinPriceMicros  int64
	MaxVolumeStep   int64
}

func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		MaxDeltaPerTick: 0.08,
		MinPriceMicros:  MinPriceMicros,
		MaxVolumeStep:   25 * ShareScale,
	}
}

// PriceCalculator turns influence-model output into per-instrument price and
// volume steps. The noise source is injected so ticks replay deterministically
// under a fixed seed.
type PriceCalculator struct {
	cfg       CalculatorConfig
	noise     Noise
	threshold *ThresholdController
}

func NewPriceCalculator(cfg CalculatorConfig, noise Noise, threshold *ThresholdController) *PriceCalculator {
	if cfg.MinPriceMicros <= 0 {
		cfg.MinPriceMicros = MinPriceMicros
	}
	return &PriceCalculator{cfg: cfg, noise: noise, threshold: threshold}
}

// NextPrice applies one multiplicative step to currentMicros. The raw delta is
// sentiment x volatility rating x a bounded symmetric noise draw, shrunk by
// the threshold controller's damping factor. The result never drops below the
// configured floor.
func (c *PriceCalculator) NextPrice(inst Instrument, currentMicros int64, sentiment float64) int64 {
	raw := sentiment * inst.VolatilityRating * symmetric(c.noise)
	raw = clampFloat(raw, -c.cfg.MaxDeltaPerTick, c.cfg.MaxDeltaPerTick)
	damped := raw * c.threshold.DampingFactor(inst.ID)

	next := int64(math.Round(float64(currentMicros) * (1 + damped)))
	if next < c.cfg.MinPriceMicros {
		next = c.cfg.MinPriceMicros
	}
	if next > MaxPriceMicros {
		next = MaxPriceMicros
	}
	return next
}

// NextVolume nudges volume by a bounded random walk, floored at zero.
func (c *PriceCalculator) NextVolume(current int64) int64 {
	step := int64(math.Round(symmetric(c.noise) * float64(c.cfg.MaxVolumeStep)))
	next := current + step
	if next < 0 {
		next = 0
	}
	return next
}
