package market

import (
	"context"
	"strings"
	"testing"
	"time"
)

type pipelineFixture struct {
	store     *memStore
	registry  *Registry
	threshold *ThresholdController
	breaker   *CircuitBreaker
	limiter   *RateLimiter
	pipeline  *Pipeline
	inst      Instrument
	now       time.Time
}

func newPipelineFixture(t *testing.T, cfg PipelineConfig) *pipelineFixture {
	t.Helper()
	store := newMemStore()
	registry := NewRegistry()
	threshold := NewThresholdController()

	breaker, err := NewCircuitBreaker(DefaultBreakerConfig(), store)
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	limitCfg := DefaultRateLimitConfig()
	limitCfg.Cooldown = 0 // tests place back-to-back orders
	limiter := NewRateLimiter(limitCfg, store)

	p := NewPipeline(cfg, store, store, store, registry, breaker, limiter, threshold, nil)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	p.SetClock(clock)
	breaker.SetClock(clock)
	limiter.SetClock(clock)

	inst, err := RegisterInstrument(context.Background(), store, registry, threshold, Instrument{
		Symbol:            "VECTRA",
		DisplayName:       "Vectra AI",
		VolatilityRating:  0.8,
		SharesOutstanding: 1_000_000 * ShareScale,
	}, 100*MicrosPerCredit)
	if err != nil {
		t.Fatalf("create instrument: %v", err)
	}

	return &pipelineFixture{
		store:     store,
		registry:  registry,
		threshold: threshold,
		breaker:   breaker,
		limiter:   limiter,
		pipeline:  p,
		inst:      inst,
		now:       now,
	}
}

func (f *pipelineFixture) fund(actorID string, credits int64) {
	_ = f.store.Credit(context.Background(), actorID, credits*MicrosPerCredit)
}

func TestPipelineBuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 2_000)

	buy, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "vectra",
		Side:          SideBuy,
		QuantityUnits: 10 * ShareScale,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !buy.Success {
		t.Fatalf("buy rejected: %s", buy.Message)
	}
	// 10 shares slip 20 bps on a 100 credit quote.
	if buy.ExecPriceMicros != 100_200_000 {
		t.Fatalf("exec price got %d", buy.ExecPriceMicros)
	}
	if buy.NotionalMicros != 1_002_000_000 {
		t.Fatalf("notional got %d", buy.NotionalMicros)
	}
	if buy.FeeMicros != 1_503_000 {
		t.Fatalf("fee got %d", buy.FeeMicros)
	}
	if want := 2_000*MicrosPerCredit - 1_002_000_000 - 1_503_000; buy.BalanceMicros != want {
		t.Fatalf("balance got %d want %d", buy.BalanceMicros, want)
	}
	if qty, _ := f.store.Quantity(ctx, "p1", f.inst.ID); qty != 10*ShareScale {
		t.Fatalf("position got %d", qty)
	}

	sell, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideSell,
		QuantityUnits: 10 * ShareScale,
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !sell.Success {
		t.Fatalf("sell rejected: %s", sell.Message)
	}
	if sell.ExecPriceMicros != 99_800_000 {
		t.Fatalf("exec price got %d", sell.ExecPriceMicros)
	}
	if qty, _ := f.store.Quantity(ctx, "p1", f.inst.ID); qty != 0 {
		t.Fatalf("position got %d", qty)
	}
	if sell.BalanceMicros != buy.BalanceMicros+998_000_000-1_497_000 {
		t.Fatalf("balance got %d", sell.BalanceMicros)
	}
}

func TestPipelineRecordsActivity(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 100_000)

	before := f.threshold.DampingFactor(f.inst.ID)
	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideBuy,
		QuantityUnits: 25 * ShareScale,
	})
	if err != nil || !result.Success {
		t.Fatalf("buy failed: %v %s", err, result.Message)
	}
	if after := f.threshold.DampingFactor(f.inst.ID); after <= before {
		t.Fatalf("damping did not rise: %f -> %f", before, after)
	}
}

func TestPipelineInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 50)

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideBuy,
		QuantityUnits: 10 * ShareScale,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrInsufficientFunds.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineInsufficientShares(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 2_000)

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideSell,
		QuantityUnits: 10 * ShareScale,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrInsufficientShares.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineUnknownSymbol(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 2_000)

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "GHOSTS",
		Side:          SideBuy,
		QuantityUnits: ShareScale,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrInstrumentNotFound.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineValidation(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())

	bad := []OrderRequest{
		{Symbol: "VECTRA", Side: SideBuy, QuantityUnits: ShareScale},              // no actor
		{ActorID: "p1", Symbol: "v!", Side: SideBuy, QuantityUnits: ShareScale},   // bad symbol
		{ActorID: "p1", Symbol: "VECTRA", Side: "hold", QuantityUnits: 1},         // bad side
		{ActorID: "p1", Symbol: "VECTRA", Side: SideBuy, QuantityUnits: 0},        // zero qty
		{ActorID: "p1", Symbol: "VECTRA", Side: SideBuy, QuantityUnits: 1, Type: OrderLimit}, // limit without price
		{ActorID: "p1", Symbol: "VECTRA", Side: SideBuy, QuantityUnits: 1, Type: OrderStop},  // stop without price
		{ActorID: "p1", Symbol: "VECTRA", Side: SideBuy, QuantityUnits: 1, Type: "iceberg"},  // unknown type
	}
	for i, req := range bad {
		result, err := f.pipeline.Execute(ctx, req)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		if result.Success {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
}

func TestPipelineLimitOrders(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 5_000)

	// Quote is 100; a buy limit of 95 is not executable right now.
	low := CreditsToMicros(95)
	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:          "p1",
		Symbol:           "VECTRA",
		Side:             SideBuy,
		QuantityUnits:    ShareScale,
		Type:             OrderLimit,
		LimitPriceMicros: &low,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrNotExecutable.Error()) {
		t.Fatalf("got %+v", result)
	}

	// A buy limit of 105 clears the quote and fills.
	high := CreditsToMicros(105)
	result, err = f.pipeline.Execute(ctx, OrderRequest{
		ActorID:          "p1",
		Symbol:           "VECTRA",
		Side:             SideBuy,
		QuantityUnits:    ShareScale,
		Type:             OrderLimit,
		LimitPriceMicros: &high,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("limit buy rejected: %s", result.Message)
	}
}

func TestPipelineStopOrders(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 5_000)

	// A buy stop above the quote waits for the price to reach it.
	above := CreditsToMicros(105)
	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:         "p1",
		Symbol:          "VECTRA",
		Side:            SideBuy,
		QuantityUnits:   ShareScale,
		Type:            OrderStop,
		StopPriceMicros: &above,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrNotExecutable.Error()) {
		t.Fatalf("got %+v", result)
	}

	// A buy stop at or under the quote triggers immediately.
	below := CreditsToMicros(95)
	result, err = f.pipeline.Execute(ctx, OrderRequest{
		ActorID:         "p1",
		Symbol:          "VECTRA",
		Side:            SideBuy,
		QuantityUnits:   ShareScale,
		Type:            OrderStop,
		StopPriceMicros: &below,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("stop buy rejected: %s", result.Message)
	}
}

func TestPipelineOrderTypeDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultPipelineConfig()
	cfg.OrderTypes[OrderStop] = false
	f := newPipelineFixture(t, cfg)
	f.fund("p1", 5_000)

	stop := CreditsToMicros(95)
	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:         "p1",
		Symbol:          "VECTRA",
		Side:            SideBuy,
		QuantityUnits:   ShareScale,
		Type:            OrderStop,
		StopPriceMicros: &stop,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrOrderTypeDisabled.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineHaltBlocksTrading(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 5_000)

	if err := f.store.InsertHalt(ctx, Halt{
		InstrumentID: f.inst.ID,
		Level:        2,
		StartAt:      f.now,
	}); err != nil {
		t.Fatalf("halt: %v", err)
	}

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideBuy,
		QuantityUnits: ShareScale,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrTradingHalted.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineNormalizesSideCase(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 5_000)

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          "BUY",
		QuantityUnits: ShareScale,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("uppercase side rejected: %s", result.Message)
	}
	if qty, _ := f.store.Quantity(ctx, "p1", f.inst.ID); qty != ShareScale {
		t.Fatalf("position got %d", qty)
	}
}

func TestPipelineExecutionPriceTripsBreaker(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 20_000)

	// A 1% level sits under the 1.5% slippage cap, so a large fill alone can
	// cross it.
	breaker, err := NewCircuitBreaker(BreakerConfig{
		Enabled:   true,
		Levels:    []float64{1},
		Durations: ParseDurations([]int{-1}),
	}, f.store)
	if err != nil {
		t.Fatalf("breaker: %v", err)
	}
	breaker.SetClock(func() time.Time { return f.now })
	f.pipeline.breaker = breaker

	if _, err := f.store.EnsureSession(ctx, f.inst.ID, sessionDay(f.now), 100*MicrosPerCredit); err != nil {
		t.Fatalf("session: %v", err)
	}

	// 100 shares slip the full 150 bps: exec 101.50 on a 100 session open.
	buy, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideBuy,
		QuantityUnits: 100 * ShareScale,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !buy.Success {
		t.Fatalf("buy rejected: %s", buy.Message)
	}
	if buy.ExecPriceMicros != 101_500_000 {
		t.Fatalf("exec price got %d", buy.ExecPriceMicros)
	}

	halts, err := f.store.ListHalts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("halts: %v", err)
	}
	if len(halts) != 1 || halts[0].Level != 1 {
		t.Fatalf("expected a level 1 halt, got %+v", halts)
	}

	follow, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideSell,
		QuantityUnits: ShareScale,
	})
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if follow.Success || !strings.Contains(follow.Message, ErrTradingHalted.Error()) {
		t.Fatalf("got %+v", follow)
	}
}

func TestPipelineRateLimitReject(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 100_000_000)

	result, err := f.pipeline.Execute(ctx, OrderRequest{
		ActorID:       "p1",
		Symbol:        "VECTRA",
		Side:          SideBuy,
		QuantityUnits: 1_001 * ShareScale, // over the 1,000 share cap
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success || !strings.Contains(result.Message, ErrRateLimited.Error()) {
		t.Fatalf("got %+v", result)
	}
}

func TestPipelineDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 5_000)

	req := OrderRequest{
		ActorID:        "p1",
		Symbol:         "VECTRA",
		Side:           SideBuy,
		QuantityUnits:  ShareScale,
		IdempotencyKey: "order-1",
	}
	first, err := f.pipeline.Execute(ctx, req)
	if err != nil || !first.Success {
		t.Fatalf("first order failed: %v %s", err, first.Message)
	}
	second, err := f.pipeline.Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Success || !strings.Contains(second.Message, ErrDuplicateIdempotency.Error()) {
		t.Fatalf("got %+v", second)
	}
}

func TestPipelineWeightedAverageCost(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fund("p1", 10_000)

	for i := 0; i < 2; i++ {
		result, err := f.pipeline.Execute(ctx, OrderRequest{
			ActorID:       "p1",
			Symbol:        "VECTRA",
			Side:          SideBuy,
			QuantityUnits: 10 * ShareScale,
		})
		if err != nil || !result.Success {
			t.Fatalf("buy %d failed: %v %s", i, err, result.Message)
		}
	}
	pos := f.store.position("p1", f.inst.ID)
	if pos.qtyUnits != 20*ShareScale {
		t.Fatalf("qty got %d", pos.qtyUnits)
	}
	// Both fills execute at the same slipped price, so the average matches it.
	if pos.avgMicros != 100_200_000 {
		t.Fatalf("avg got %d", pos.avgMicros)
	}
}
