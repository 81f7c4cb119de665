package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type PipelineConfig struct {
	OrderTypes map[OrderType]bool
	Fees       FeeConfig
	Slippage   SlippageConfig
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		OrderTypes: map[OrderType]bool{OrderMarket: true, OrderLimit: true, OrderStop: true},
		Fees:       DefaultFeeConfig(),
		Slippage:   DefaultSlippageConfig(),
	}
}

// Pipeline turns an order request into a priced, fee-adjusted, rate-limited,
// atomically applied balance and position change. Every collaborator is
// injected at construction.
type Pipeline struct {
	cfg       PipelineConfig
	store     Store
	wallet    Wallet
	positions Positions
	registry  *Registry
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	threshold *ThresholdController
	log       *slog.Logger
	clock     func() time.Time
}

func NewPipeline(
	cfg PipelineConfig,
	store Store,
	wallet Wallet,
	positions Positions,
	registry *Registry,
	breaker *CircuitBreaker,
	limiter *RateLimiter,
	threshold *ThresholdController,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		wallet:    wallet,
		positions: positions,
		registry:  registry,
		breaker:   breaker,
		limiter:   limiter,
		threshold: threshold,
		log:       logger,
		clock:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (p *Pipeline) SetClock(clock func() time.Time) { p.clock = clock }

func reject(format string, args ...any) TradeResult {
	return TradeResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Execute runs the order through validation, halt and rate-limit gates, price
// resolution, slippage and fees, then the atomic balance/position/order
// mutation. Domain rejections come back as an unsuccessful TradeResult;
// storage faults propagate as errors.
func (p *Pipeline) Execute(ctx context.Context, req OrderRequest) (TradeResult, error) {
	if err := p.validate(&req); err != nil {
		return reject("%v", err), nil
	}
	if enabled, ok := p.cfg.OrderTypes[req.Type]; !ok || !enabled {
		return reject("%v: %s", ErrOrderTypeDisabled, req.Type), nil
	}

	// The registry answers symbol lookups without a storage round trip; the
	// store is only consulted for the live quote.
	inst, ok := p.registry.Get(req.Symbol)
	if !ok {
		return reject("%v: %s", ErrInstrumentNotFound, req.Symbol), nil
	}
	quote, err := p.store.GetQuote(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, ErrInstrumentNotFound) {
			return reject("%v: %s", ErrInstrumentNotFound, req.Symbol), nil
		}
		return TradeResult{}, err
	}

	if halt, err := p.breaker.IsHalted(ctx, inst.ID); err != nil {
		return TradeResult{}, err
	} else if halt != nil {
		if _, active := halt.Remaining(p.clock()); active {
			return reject("%v: level %d halt on %s%s", ErrTradingHalted, halt.Level, inst.Symbol, haltTail(*halt, p.clock())), nil
		}
	}

	execMicros, err := resolvePrice(req, quote.State.PriceMicros)
	if err != nil {
		return reject("%v", err), nil
	}
	execMicros = p.cfg.Slippage.SlippedPrice(req.Side, execMicros, req.QuantityUnits)

	notional, err := NotionalMicros(execMicros, req.QuantityUnits)
	if err != nil {
		return TradeResult{}, err
	}
	fee := p.cfg.Fees.Fee(notional)

	unlock := p.limiter.LockActor(req.ActorID)
	defer unlock()

	if err := p.limiter.ValidateTrade(ctx, req.ActorID, req.QuantityUnits, notional); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return reject("%v", err), nil
		}
		return TradeResult{}, err
	}

	switch req.Side {
	case SideBuy:
		balance, err := p.wallet.Balance(ctx, req.ActorID)
		if err != nil {
			return TradeResult{}, err
		}
		if balance < notional+fee {
			return reject("%v: need %.2f, have %.2f credits",
				ErrInsufficientFunds, MicrosToCredits(notional+fee), MicrosToCredits(balance)), nil
		}
	case SideSell:
		held, err := p.positions.Quantity(ctx, req.ActorID, inst.ID)
		if err != nil {
			return TradeResult{}, err
		}
		if held < req.QuantityUnits {
			return reject("%v: hold %.4f, selling %.4f shares",
				ErrInsufficientShares, UnitsToShares(held), UnitsToShares(req.QuantityUnits)), nil
		}
	}

	receipt, err := p.store.ExecuteTrade(ctx, TradeExec{
		ActorID:           req.ActorID,
		Instrument:        inst,
		Side:              req.Side,
		QuantityUnits:     req.QuantityUnits,
		QuotedPriceMicros: quote.State.PriceMicros,
		ExecPriceMicros:   execMicros,
		NotionalMicros:    notional,
		FeeMicros:         fee,
		Type:              req.Type,
		LimitPriceMicros:  req.LimitPriceMicros,
		StopPriceMicros:   req.StopPriceMicros,
		IdempotencyKey:    req.IdempotencyKey,
		At:                p.clock(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientFunds),
			errors.Is(err, ErrInsufficientShares),
			errors.Is(err, ErrDuplicateIdempotency):
			return reject("%v", err), nil
		}
		return TradeResult{}, err
	}

	p.postExecution(ctx, inst, req, execMicros, notional)

	return TradeResult{
		Success:         true,
		Message:         fmt.Sprintf("%s %s filled", req.Side, inst.Symbol),
		OrderID:         receipt.OrderID,
		ExecPriceMicros: execMicros,
		NotionalMicros:  notional,
		FeeMicros:       fee,
		BalanceMicros:   receipt.BalanceMicros,
	}, nil
}

func (p *Pipeline) validate(req *OrderRequest) error {
	req.Symbol = normalizeSymbol(req.Symbol)
	if req.ActorID == "" {
		return fmt.Errorf("%w: actor id required", ErrValidation)
	}
	if err := ValidateSymbol(req.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	side, err := ParseSide(string(req.Side))
	if err != nil {
		return err
	}
	req.Side = side
	if req.QuantityUnits <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	}
	if req.Type == "" {
		req.Type = OrderMarket
	}
	switch req.Type {
	case OrderLimit:
		if req.LimitPriceMicros == nil || *req.LimitPriceMicros <= 0 {
			return fmt.Errorf("%w: limit order requires a positive limit price", ErrValidation)
		}
	case OrderStop:
		if req.StopPriceMicros == nil || *req.StopPriceMicros <= 0 {
			return fmt.Errorf("%w: stop order requires a positive stop price", ErrValidation)
		}
	case OrderMarket:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, req.Type)
	}
	return nil
}

// resolvePrice applies the order-type rules against the quoted price. Limit
// and stop orders are fill-or-nothing-now: there is no resting book.
func resolvePrice(req OrderRequest, quotedMicros int64) (int64, error) {
	switch req.Type {
	case OrderLimit:
		limit := *req.LimitPriceMicros
		if req.Side == SideBuy && quotedMicros > limit {
			return 0, fmt.Errorf("%w: quoted %.2f above buy limit %.2f",
				ErrNotExecutable, MicrosToCredits(quotedMicros), MicrosToCredits(limit))
		}
		if req.Side == SideSell && quotedMicros < limit {
			return 0, fmt.Errorf("%w: quoted %.2f below sell limit %.2f",
				ErrNotExecutable, MicrosToCredits(quotedMicros), MicrosToCredits(limit))
		}
		return quotedMicros, nil
	case OrderStop:
		stop := *req.StopPriceMicros
		if req.Side == SideBuy && quotedMicros < stop {
			return 0, fmt.Errorf("%w: quoted %.2f below buy stop %.2f",
				ErrNotExecutable, MicrosToCredits(quotedMicros), MicrosToCredits(stop))
		}
		if req.Side == SideSell && quotedMicros > stop {
			return 0, fmt.Errorf("%w: quoted %.2f above sell stop %.2f",
				ErrNotExecutable, MicrosToCredits(quotedMicros), MicrosToCredits(stop))
		}
		return quotedMicros, nil
	default:
		return quotedMicros, nil
	}
}

// postExecution runs after the trade committed. Failures here are logged, not
// returned: the fill already happened.
func (p *Pipeline) postExecution(ctx context.Context, inst Instrument, req OrderRequest, execMicros, notional int64) {
	p.threshold.RecordTradingActivity(inst.ID, req.QuantityUnits)

	if halt, err := p.breaker.Check(ctx, inst.ID, execMicros); err != nil {
		p.log.Error("post-trade breaker check failed", "symbol", inst.Symbol, "err", err)
	} else if halt != nil {
		p.log.Warn("trade tripped circuit breaker",
			"symbol", inst.Symbol, "level", halt.Level, "price_micros", execMicros)
	}

	if err := p.limiter.RecordTrade(ctx, req.ActorID, notional); err != nil {
		p.log.Error("rate limit record failed", "actor", req.ActorID, "err", err)
	}
}

func haltTail(h Halt, now time.Time) string {
	if h.EndAt == nil {
		return " (indefinite)"
	}
	if rem, ok := h.Remaining(now); ok {
		return fmt.Sprintf(" (%s remaining)", rem.Round(time.Second))
	}
	return ""
}
