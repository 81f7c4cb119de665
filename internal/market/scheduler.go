package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type SchedulerConfig struct {
	TickInterval          time.Duration
	ActivityResetInterval time.Duration
	// MaterialityThreshold is the absolute factor impact above which a factor
	// makes the tick's reason tag.
	MaterialityThreshold float64
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:          5 * time.Second,
		ActivityResetInterval: 60 * time.Second,
		MaterialityThreshold:  0.01,
	}
}

// Scheduler drives the simulation: a fixed-interval tick that refreshes
// influences, reprices every instrument and persists the resulting state and
// history as one batch, plus a slower timer that decays trading-activity
// counters. It is the sole writer of instrument state and the sole mutator of
// the in-memory influence/threshold state.
type Scheduler struct {
	cfg        SchedulerConfig
	store      Store
	registry   *Registry
	influences *InfluenceModel
	calc       *PriceCalculator
	analytics  *Analytics
	threshold  *ThresholdController
	log        *slog.Logger
	clock      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tickMu sync.Mutex // serializes manual ticks against timer ticks
}

func NewScheduler(
	cfg SchedulerConfig,
	store Store,
	registry *Registry,
	influences *InfluenceModel,
	calc *PriceCalculator,
	analytics *Analytics,
	threshold *ThresholdController,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.ActivityResetInterval <= 0 {
		cfg.ActivityResetInterval = 60 * time.Second
	}
	if cfg.MaterialityThreshold <= 0 {
		cfg.MaterialityThreshold = 0.01
	}
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		influences: influences,
		calc:       calc,
		analytics:  analytics,
		threshold:  threshold,
		log:        logger,
		clock:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Scheduler) SetClock(clock func() time.Time) { s.clock = clock }

// Start launches the tick and activity-reset loops. Calling Start on a
// running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.runTicks(runCtx)
	go s.runActivityReset(runCtx)

	s.log.Info("simulation scheduler started",
		"tick_every", s.cfg.TickInterval.String(),
		"activity_reset_every", s.cfg.ActivityResetInterval.String(),
		"instruments", s.registry.Len(),
	)
	return nil
}

// Stop cancels the loops and waits for the in-flight tick until ctx expires;
// after that the goroutines are abandoned to finish on their own. Stop on a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("simulation scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("simulation scheduler stop grace expired")
		return ctx.Err()
	}
}

// TickNow runs one simulation tick synchronously, for admin endpoints and
// run-once workers.
func (s *Scheduler) TickNow(ctx context.Context) error {
	return s.tick(ctx)
}

func (s *Scheduler) runTicks(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A bad tick must never stop the next one.
			if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("market tick failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) runActivityReset(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ActivityResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.threshold.ResetTradingActivity()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	start := s.clock()
	s.influences.Advance()
	sentiment := s.influences.Sentiment()
	reason := s.influences.Reason(s.cfg.MaterialityThreshold)

	quotes, err := s.store.ListQuotes(ctx)
	if err != nil {
		return fmt.Errorf("list quotes: %w", err)
	}

	batch := TickBatch{At: start, Updates: make([]TickUpdate, 0, len(quotes))}
	for _, q := range quotes {
		batch.Updates = append(batch.Updates, s.repriceOne(ctx, q, sentiment, reason, start))
	}
	if len(batch.Updates) == 0 {
		return nil
	}
	if err := s.store.ApplyTick(ctx, batch); err != nil {
		return fmt.Errorf("apply tick: %w", err)
	}

	s.log.Info("market tick complete",
		"instruments", len(batch.Updates),
		"sentiment", fmt.Sprintf("%.4f", sentiment),
		"reason", reason,
		"took", time.Since(start).String(),
	)
	return nil
}

func (s *Scheduler) repriceOne(ctx context.Context, q Quote, sentiment float64, reason string, now time.Time) TickUpdate {
	inst := q.Instrument
	newPrice := s.calc.NextPrice(inst, q.State.PriceMicros, sentiment)
	newVolume := s.calc.NextVolume(q.State.Volume)

	history, err := s.store.PriceHistory(ctx, inst.ID, now.Add(-24*time.Hour))
	if err != nil {
		// Zeroed metrics are acceptable; stalling the price walk is not.
		s.log.Warn("history read failed, metrics zeroed", "symbol", inst.Symbol, "err", err)
		history = nil
	}
	metrics, merr := s.analytics.WindowMetrics(history, PricePoint{TickAt: now, PriceMicros: newPrice, Volume: newVolume}, now)
	if merr != nil {
		s.log.Debug("metrics degraded", "symbol", inst.Symbol, "err", merr)
	}

	marketCap, err := NotionalMicros(newPrice, inst.SharesOutstanding)
	if err != nil {
		marketCap = 0
		s.log.Debug("market cap overflow", "symbol", inst.Symbol)
	}

	return TickUpdate{
		State: InstrumentState{
			InstrumentID:    inst.ID,
			PriceMicros:     newPrice,
			Volume:          newVolume,
			Change1h:        metrics.Change1h,
			Change24h:       metrics.Change24h,
			Volatility24h:   metrics.Volatility24h,
			MarketCapMicros: marketCap,
			UpdatedAt:       now,
		},
		Reason: reason,
	}
}
