package market

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
)

const (
	MicrosPerCredit = int64(1_000_000)

	// ShareScale is the number of position units per whole share.
	ShareScale = int64(10_000)

	// MinPriceMicros floors every simulated price; a price can shrink but
	// never reach zero.
	MinPriceMicros = int64(10_000) // 0.01 credit

	MaxPriceMicros = int64(2_000_000_000_000_000)

	StarterBalanceMicros = int64(25_000) * MicrosPerCredit
)

var (
	ErrInvalidSymbol        = errors.New("symbol must be 3-6 uppercase letters")
	ErrInstrumentNotFound   = errors.New("instrument not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientShares   = errors.New("insufficient shares")
	ErrNotExecutable        = errors.New("order not executable at current price")
	ErrTradingHalted        = errors.New("trading halted")
	ErrRateLimited          = errors.New("rate limited")
	ErrOrderTypeDisabled    = errors.New("order type disabled")
	ErrValidation           = errors.New("invalid order request")
	ErrInsufficientSamples  = errors.New("not enough samples")
	ErrUnknownFactor        = errors.New("unknown influence factor")
	ErrTxConflict           = errors.New("transaction conflict, retry")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{3,6}$`)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func CreditsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerCredit)))
}

func MicrosToCredits(v int64) float64 {
	return float64(v) / float64(MicrosPerCredit)
}

func SharesToUnits(v float64) (int64, error) {
	if v <= 0 {
		return 0, fmt.Errorf("shares must be > 0")
	}
	return int64(math.Round(v * float64(ShareScale))), nil
}

func UnitsToShares(v int64) float64 {
	return float64(v) / float64(ShareScale)
}

// NotionalMicros is price x quantity with overflow protection.
func NotionalMicros(priceMicros, qtyUnits int64) (int64, error) {
	p := big.NewInt(priceMicros)
	q := big.NewInt(qtyUnits)
	v := new(big.Int).Mul(p, q)
	v = v.Div(v, big.NewInt(ShareScale))
	if !v.IsInt64() {
		return 0, fmt.Errorf("notional overflow")
	}
	return v.Int64(), nil
}

// DivideMicros converts a total cost back to a per-share price.
func DivideMicros(totalMicros, qtyUnits int64) (int64, error) {
	if qtyUnits <= 0 {
		return 0, fmt.Errorf("qty must be > 0")
	}
	v := new(big.Int).Mul(big.NewInt(totalMicros), big.NewInt(ShareScale))
	v = v.Div(v, big.NewInt(qtyUnits))
	if !v.IsInt64() {
		return 0, fmt.Errorf("avg overflow")
	}
	return v.Int64(), nil
}

// WeightedAverageMicros returns the running average cost after buying addQty
// units at addPrice on top of oldQty units carried at oldAvg.
func WeightedAverageMicros(oldQty, oldAvg, addQty, addPrice int64) (int64, error) {
	newQty := oldQty + addQty
	if newQty <= 0 {
		return 0, fmt.Errorf("invalid resulting quantity")
	}
	totalOld, err := NotionalMicros(oldAvg, oldQty)
	if err != nil {
		return 0, err
	}
	totalNew, err := NotionalMicros(addPrice, addQty)
	if err != nil {
		return 0, err
	}
	return DivideMicros(totalOld+totalNew, newQty)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
