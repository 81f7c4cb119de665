package market

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// HaltDuration is either a bounded halt in minutes or an indefinite one.
type HaltDuration struct {
	Minutes    int
	Indefinite bool
}

func (d HaltDuration) String() string {
	if d.Indefinite {
		return "indefinite"
	}
	return fmt.Sprintf("%dm", d.Minutes)
}

// BreakerConfig pairs ascending movement levels (percent) with halt
// durations. A negative duration in raw config means indefinite; ParseDurations
// turns that sentinel into the tagged form once, at the edge.
type BreakerConfig struct {
	Enabled   bool
	Levels    []float64
	Durations []HaltDuration
}

// ParseDurations maps raw minute values onto HaltDurations, treating negative
// values as indefinite.
func ParseDurations(minutes []int) []HaltDuration {
	out := make([]HaltDuration, len(minutes))
	for i, m := range minutes {
		if m < 0 {
			out[i] = HaltDuration{Indefinite: true}
		} else {
			out[i] = HaltDuration{Minutes: m}
		}
	}
	return out
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:   true,
		Levels:    []float64{7, 13, 20},
		Durations: ParseDurations([]int{15, 60, -1}),
	}
}

func (c BreakerConfig) validate() error {
	if len(c.Levels) != len(c.Durations) {
		return fmt.Errorf("circuit breaker: %d levels but %d durations", len(c.Levels), len(c.Durations))
	}
	for i := 1; i < len(c.Levels); i++ {
		if c.Levels[i] <= c.Levels[i-1] {
			return fmt.Errorf("circuit breaker: levels must ascend")
		}
	}
	return nil
}

const breakerStripes = 64

// CircuitBreaker halts an instrument when its intraday movement from the
// session-open price crosses a configured level. Checks serialize per
// instrument so two concurrent trades cannot both trigger the same level.
type CircuitBreaker struct {
	cfg   BreakerConfig
	store SessionStore
	clock func() time.Time
	locks [breakerStripes]sync.Mutex
}

func NewCircuitBreaker(cfg BreakerConfig, store SessionStore) (*CircuitBreaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{cfg: cfg, store: store, clock: time.Now}, nil
}

// SetClock overrides the time source, for tests.
func (b *CircuitBreaker) SetClock(clock func() time.Time) { b.clock = clock }

func (b *CircuitBreaker) lock(instrumentID int64) *sync.Mutex {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(instrumentID >> (8 * i))
	}
	h.Write(buf[:])
	return &b.locks[h.Sum32()%breakerStripes]
}

func sessionDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Check evaluates the price against the session open, creating today's
// session lazily, and triggers the first eligible level that has not already
// fired today. It returns the newly created halt, or nil.
func (b *CircuitBreaker) Check(ctx context.Context, instrumentID, priceMicros int64) (*Halt, error) {
	if !b.cfg.Enabled {
		return nil, nil
	}
	mu := b.lock(instrumentID)
	mu.Lock()
	defer mu.Unlock()

	now := b.clock()
	day := sessionDay(now)
	openMicros, err := b.store.EnsureSession(ctx, instrumentID, day, priceMicros)
	if err != nil {
		return nil, err
	}
	if openMicros <= 0 {
		return nil, nil
	}
	movementPct := math.Abs(float64(priceMicros-openMicros)) / float64(openMicros) * 100

	for i, level := range b.cfg.Levels {
		if movementPct < level {
			break
		}
		fired, err := b.store.HaltExists(ctx, instrumentID, i+1, day)
		if err != nil {
			return nil, err
		}
		if fired {
			continue
		}
		halt := Halt{
			InstrumentID:       instrumentID,
			Level:              i + 1,
			StartAt:            now,
			SessionOpenMicros:  openMicros,
			TriggerPriceMicros: priceMicros,
		}
		if d := b.cfg.Durations[i]; !d.Indefinite {
			end := now.Add(time.Duration(d.Minutes) * time.Minute)
			halt.EndAt = &end
		}
		if err := b.store.InsertHalt(ctx, halt); err != nil {
			return nil, err
		}
		return &halt, nil
	}
	return nil, nil
}

// IsHalted reports the active halt, if any: one with no end time or an end
// time in the future.
func (b *CircuitBreaker) IsHalted(ctx context.Context, instrumentID int64) (*Halt, error) {
	if !b.cfg.Enabled {
		return nil, nil
	}
	return b.store.ActiveHalt(ctx, instrumentID, b.clock())
}
