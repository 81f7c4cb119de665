package market

import (
	"context"
	"time"
)

// TickUpdate is one instrument's share of a simulation tick: the rewritten
// live state plus the appended history row's reason tag.
type TickUpdate struct {
	State  InstrumentState
	Reason string
}

// TickBatch is persisted as one atomic unit so readers never observe a
// half-updated price set.
type TickBatch struct {
	At      time.Time
	Updates []TickUpdate
}

// TradeExec is the fully priced order handed to the store for atomic
// execution: wallet move, position change and order record in one unit of
// work.
type TradeExec struct {
	ActorID           string
	Instrument        Instrument
	Side              Side
	QuantityUnits     int64
	QuotedPriceMicros int64
	ExecPriceMicros   int64
	NotionalMicros    int64
	FeeMicros         int64
	Type              OrderType
	LimitPriceMicros  *int64
	StopPriceMicros   *int64
	IdempotencyKey    string
	At                time.Time
}

type TradeReceipt struct {
	OrderID       int64
	BalanceMicros int64
}

// SessionStore is the circuit breaker's per-day bookkeeping.
type SessionStore interface {
	// EnsureSession creates the (instrument, day) session lazily at the first
	// observed price and returns the session-open price either way.
	EnsureSession(ctx context.Context, instrumentID int64, day string, priceMicros int64) (int64, error)
	HaltExists(ctx context.Context, instrumentID int64, level int, day string) (bool, error)
	InsertHalt(ctx context.Context, halt Halt) error
	ActiveHalt(ctx context.Context, instrumentID int64, now time.Time) (*Halt, error)
	ListHalts(ctx context.Context, since time.Time) ([]Halt, error)
}

// LimitStore persists per-actor trade limit windows.
type LimitStore interface {
	// TradeWindow returns the notional already used in the given minute bucket
	// and the actor's most recent trade time across all buckets.
	TradeWindow(ctx context.Context, actorID string, minuteStart time.Time) (usedMicros int64, lastTrade time.Time, err error)
	RecordTradeWindow(ctx context.Context, actorID string, minuteStart time.Time, notionalMicros int64, at time.Time) error
	PruneTradeWindows(ctx context.Context, actorID string, before time.Time) error
}

// Store is the persistence surface the engine requires; the concrete engine
// behind it is a collaborator detail.
type Store interface {
	HistorySource
	SessionStore
	LimitStore

	// CreateInstrument writes the instrument and its initial live state
	// together and returns the stored instrument with its id.
	CreateInstrument(ctx context.Context, inst Instrument, initialPriceMicros int64) (Instrument, error)
	ListInstruments(ctx context.Context) ([]Instrument, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	ListQuotes(ctx context.Context) ([]Quote, error)
	ApplyTick(ctx context.Context, batch TickBatch) error

	// ExecuteTrade runs the balance/position/order mutation atomically,
	// re-checking funds and holdings inside the transaction. It returns
	// ErrInsufficientFunds, ErrInsufficientShares or ErrDuplicateIdempotency
	// for domain rejections.
	ExecuteTrade(ctx context.Context, exec TradeExec) (TradeReceipt, error)
}

// Wallet is the external balance collaborator.
type Wallet interface {
	Balance(ctx context.Context, actorID string) (int64, error)
	Credit(ctx context.Context, actorID string, amountMicros int64) error
	Debit(ctx context.Context, actorID string, amountMicros int64) error
}

// Positions is the external holdings collaborator.
type Positions interface {
	Quantity(ctx context.Context, actorID string, instrumentID int64) (int64, error)
	AddPosition(ctx context.Context, actorID string, instrumentID, qtyUnits, priceMicros int64) error
	RemovePosition(ctx context.Context, actorID string, instrumentID, qtyUnits int64) error
}
