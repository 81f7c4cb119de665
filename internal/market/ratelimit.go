package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

type RateLimitConfig struct {
	Enabled              bool
	MaxOrderUnits        int64
	Cooldown             time.Duration
	MaxNotionalPerMinute int64 // micros
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:              true,
		MaxOrderUnits:        1_000 * ShareScale,
		Cooldown:             3 * time.Second,
		MaxNotionalPerMinute: 500_000 * MicrosPerCredit,
	}
}

const limiterStripes = 64

// RateLimiter enforces per-actor cooldown, order size and rolling per-minute
// notional caps. The pipeline holds the actor's stripe lock across its whole
// check-then-act span so concurrent orders from one actor serialize.
type RateLimiter struct {
	cfg   RateLimitConfig
	store LimitStore
	clock func() time.Time
	locks [limiterStripes]sync.Mutex
}

func NewRateLimiter(cfg RateLimitConfig, store LimitStore) *RateLimiter {
	return &RateLimiter{cfg: cfg, store: store, clock: time.Now}
}

// SetClock overrides the time source, for tests.
func (l *RateLimiter) SetClock(clock func() time.Time) { l.clock = clock }

// LockActor serializes this actor's trades; the returned func releases.
func (l *RateLimiter) LockActor(actorID string) func() {
	h := fnv.New32a()
	h.Write([]byte(actorID))
	mu := &l.locks[h.Sum32()%limiterStripes]
	mu.Lock()
	return mu.Unlock
}

// MinuteBucket floors t to its minute window, the persisted bucket key.
func MinuteBucket(t time.Time) time.Time {
	ms := t.UnixMilli() / 60_000 * 60_000
	return time.UnixMilli(ms).UTC()
}

// ValidateTrade rejects oversized, too-frequent or over-budget trades with a
// reasoned ErrRateLimited.
func (l *RateLimiter) ValidateTrade(ctx context.Context, actorID string, qtyUnits, notionalMicros int64) error {
	if !l.cfg.Enabled {
		return nil
	}
	if l.cfg.MaxOrderUnits > 0 && qtyUnits > l.cfg.MaxOrderUnits {
		return fmt.Errorf("%w: order size %.4f exceeds max %.4f shares",
			ErrRateLimited, UnitsToShares(qtyUnits), UnitsToShares(l.cfg.MaxOrderUnits))
	}

	now := l.clock()
	used, lastTrade, err := l.store.TradeWindow(ctx, actorID, MinuteBucket(now))
	if err != nil {
		return err
	}
	if l.cfg.Cooldown > 0 && !lastTrade.IsZero() {
		if wait := l.cfg.Cooldown - now.Sub(lastTrade); wait > 0 {
			return fmt.Errorf("%w: cooldown, retry in %s", ErrRateLimited, wait.Round(time.Millisecond))
		}
	}
	if l.cfg.MaxNotionalPerMinute > 0 && used+notionalMicros > l.cfg.MaxNotionalPerMinute {
		return fmt.Errorf("%w: minute notional cap %.2f would be exceeded",
			ErrRateLimited, MicrosToCredits(l.cfg.MaxNotionalPerMinute))
	}
	return nil
}

// RecordTrade books usage after a successful execution and opportunistically
// prunes buckets older than one hour.
func (l *RateLimiter) RecordTrade(ctx context.Context, actorID string, notionalMicros int64) error {
	if !l.cfg.Enabled {
		return nil
	}
	now := l.clock()
	if err := l.store.RecordTradeWindow(ctx, actorID, MinuteBucket(now), notionalMicros, now); err != nil {
		return err
	}
	return l.store.PruneTradeWindows(ctx, actorID, now.Add(-time.Hour))
}
