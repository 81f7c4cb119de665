package market

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
}

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

func ParseOrderType(s string) (OrderType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return OrderMarket, nil
	}
	switch OrderType(v) {
	case OrderMarket, OrderLimit, OrderStop:
		return OrderType(v), nil
	default:
		return "", fmt.Errorf("%w: order type must be market, limit or stop", ErrValidation)
	}
}

type Instrument struct {
	ID                int64     `json:"id"`
	Symbol            string    `json:"symbol"`
	DisplayName       string    `json:"display_name"`
	Category          string    `json:"category"`
	Precision         int32     `json:"precision"`
	VolatilityRating  float64   `json:"volatility_rating"`
	SharesOutstanding int64     `json:"shares_outstanding_units"`
	CreatedBy         string    `json:"created_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// InstrumentState is the live per-instrument row, rewritten every tick.
type InstrumentState struct {
	InstrumentID    int64     `json:"instrument_id"`
	PriceMicros     int64     `json:"price_micros"`
	Volume          int64     `json:"volume"`
	Change1h        float64   `json:"change_1h"`
	Change24h       float64   `json:"change_24h"`
	Volatility24h   float64   `json:"volatility_24h"`
	MarketCapMicros int64     `json:"market_cap_micros"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Quote struct {
	Instrument Instrument      `json:"instrument"`
	State      InstrumentState `json:"state"`
}

type PricePoint struct {
	TickAt      time.Time `json:"tick_at"`
	PriceMicros int64     `json:"price_micros"`
	Volume      int64     `json:"volume"`
	Reason      string    `json:"reason,omitempty"`
}

type Halt struct {
	ID                 int64      `json:"id"`
	InstrumentID       int64      `json:"instrument_id"`
	Level              int        `json:"level"`
	StartAt            time.Time  `json:"start_at"`
	EndAt              *time.Time `json:"end_at,omitempty"` // nil means indefinite
	SessionOpenMicros  int64      `json:"session_open_micros"`
	TriggerPriceMicros int64      `json:"trigger_price_micros"`
}

// Remaining reports how long the halt still binds at now. ok is false once the
// halt has lapsed; indefinite halts report ok with a zero duration.
func (h Halt) Remaining(now time.Time) (time.Duration, bool) {
	if h.EndAt == nil {
		return 0, true
	}
	if h.EndAt.After(now) {
		return h.EndAt.Sub(now), true
	}
	return 0, false
}

type OrderRequest struct {
	ActorID          string    `json:"actor_id"`
	Symbol           string    `json:"symbol"`
	Side             Side      `json:"side"`
	QuantityUnits    int64     `json:"quantity_units"`
	Type             OrderType `json:"order_type"`
	LimitPriceMicros *int64    `json:"limit_price_micros,omitempty"`
	StopPriceMicros  *int64    `json:"stop_price_micros,omitempty"`
	IdempotencyKey   string    `json:"-"`
}

// TradeResult is the structured outcome of the execution pipeline. A rejected
// order carries Success=false and a human-readable Message; only storage
// faults surface as errors.
type TradeResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	OrderID         int64  `json:"order_id,omitempty"`
	ExecPriceMicros int64  `json:"exec_price_micros,omitempty"`
	NotionalMicros  int64  `json:"notional_micros,omitempty"`
	FeeMicros       int64  `json:"fee_micros,omitempty"`
	BalanceMicros   int64  `json:"balance_micros,omitempty"`
}

type Order struct {
	ID               int64     `json:"id"`
	ActorID          string    `json:"actor_id"`
	InstrumentID     int64     `json:"instrument_id"`
	Side             Side      `json:"side"`
	QuantityUnits    int64     `json:"quantity_units"`
	PriceMicros      int64     `json:"price_micros"`
	ExecPriceMicros  int64     `json:"exec_price_micros"`
	FeeMicros        int64     `json:"fee_micros"`
	Type             OrderType `json:"order_type"`
	LimitPriceMicros *int64    `json:"limit_price_micros,omitempty"`
	StopPriceMicros  *int64    `json:"stop_price_micros,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
