package market

import "math"

type FeeMode string

const (
	FeePercent FeeMode = "percent"
	FeeFlat    FeeMode = "flat"
	FeeMixed   FeeMode = "mixed"
)

type FeeConfig struct {
	Mode        FeeMode
	PercentRate float64 // fraction of notional, e.g. 0.0015
	FlatMicros  int64
}

func DefaultFeeConfig() FeeConfig {
	return FeeConfig{Mode: FeePercent, PercentRate: 0.0015}
}

// Fee computes the fee for a notional value. Unknown modes fall back to
// percent.
func (c FeeConfig) Fee(notionalMicros int64) int64 {
	percent := int64(math.Round(float64(notionalMicros) * c.PercentRate))
	switch c.Mode {
	case FeeFlat:
		return c.FlatMicros
	case FeeMixed:
		return percent + c.FlatMicros
	default:
		return percent
	}
}

// SlippageConfig shapes the synthetic market impact: there is no order book
// to walk, so impact is a monotonic function of order size.
type SlippageConfig struct {
	BpsPerShare float64 // basis points of adverse movement per whole share
	MaxBps      float64
}

func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{BpsPerShare: 2, MaxBps: 150}
}

// SlippedPrice moves the quoted price against the actor: buys execute above
// the quote, sells below, scaled by quantity and capped. The result keeps the
// price floor.
func (c SlippageConfig) SlippedPrice(side Side, priceMicros, qtyUnits int64) int64 {
	bps := c.BpsPerShare * UnitsToShares(qtyUnits)
	if c.MaxBps > 0 && bps > c.MaxBps {
		bps = c.MaxBps
	}
	frac := bps / 10_000
	var adjusted float64
	if side == SideBuy {
		adjusted = float64(priceMicros) * (1 + frac)
	} else {
		adjusted = float64(priceMicros) * (1 - frac)
	}
	out := int64(math.Round(adjusted))
	if out < MinPriceMicros {
		out = MinPriceMicros
	}
	return out
}
