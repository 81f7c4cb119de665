package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store, Wallet and Positions used across the
// package tests. Semantics mirror the Postgres store closely enough that
// pipeline, breaker and scheduler tests exercise real flows.
type memStore struct {
	mu          sync.Mutex
	instruments map[int64]Instrument
	states      map[int64]InstrumentState
	history     map[int64][]PricePoint
	sessions    map[string]int64 // instrumentID|day -> open price
	halts       []Halt
	windows     map[string]int64 // actorID|minute -> notional used
	lastTrade   map[string]time.Time
	balances    map[string]int64
	holdings    map[string]map[int64]*memPosition
	idem        map[string]bool
	nextInstID  int64
	nextOrderID int64
	nextHaltID  int64
}

type memPosition struct {
	qtyUnits  int64
	avgMicros int64
}

func newMemStore() *memStore {
	return &memStore{
		instruments: make(map[int64]Instrument),
		states:      make(map[int64]InstrumentState),
		history:     make(map[int64][]PricePoint),
		sessions:    make(map[string]int64),
		windows:     make(map[string]int64),
		lastTrade:   make(map[string]time.Time),
		balances:    make(map[string]int64),
		holdings:    make(map[string]map[int64]*memPosition),
		idem:        make(map[string]bool),
	}
}

func (m *memStore) CreateInstrument(_ context.Context, inst Instrument, initialPriceMicros int64) (Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextInstID++
	inst.ID = m.nextInstID
	inst.CreatedAt = time.Now()
	m.instruments[inst.ID] = inst
	marketCap, _ := NotionalMicros(initialPriceMicros, inst.SharesOutstanding)
	m.states[inst.ID] = InstrumentState{
		InstrumentID:    inst.ID,
		PriceMicros:     initialPriceMicros,
		MarketCapMicros: marketCap,
		UpdatedAt:       inst.CreatedAt,
	}
	m.history[inst.ID] = append(m.history[inst.ID], PricePoint{
		TickAt:      inst.CreatedAt,
		PriceMicros: initialPriceMicros,
		Reason:      "listing",
	})
	return inst, nil
}

func (m *memStore) ListInstruments(context.Context) ([]Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Instrument, 0, len(m.instruments))
	for _, inst := range m.instruments {
		out = append(out, inst)
	}
	return out, nil
}

func (m *memStore) GetQuote(_ context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.instruments {
		if inst.Symbol == symbol {
			return Quote{Instrument: inst, State: m.states[id]}, nil
		}
	}
	return Quote{}, ErrInstrumentNotFound
}

func (m *memStore) ListQuotes(context.Context) ([]Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Quote, 0, len(m.instruments))
	for id, inst := range m.instruments {
		out = append(out, Quote{Instrument: inst, State: m.states[id]})
	}
	return out, nil
}

func (m *memStore) ApplyTick(_ context.Context, batch TickBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range batch.Updates {
		m.states[u.State.InstrumentID] = u.State
		m.history[u.State.InstrumentID] = append(m.history[u.State.InstrumentID], PricePoint{
			TickAt:      batch.At,
			PriceMicros: u.State.PriceMicros,
			Volume:      u.State.Volume,
			Reason:      u.Reason,
		})
	}
	return nil
}

func (m *memStore) PriceHistory(_ context.Context, instrumentID int64, since time.Time) ([]PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PricePoint
	for _, p := range m.history[instrumentID] {
		if !p.TickAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) setHistory(instrumentID int64, points []PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[instrumentID] = points
}

func (m *memStore) ExecuteTrade(_ context.Context, exec TradeExec) (TradeReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exec.IdempotencyKey != "" {
		key := exec.ActorID + "|" + exec.IdempotencyKey
		if m.idem[key] {
			return TradeReceipt{}, ErrDuplicateIdempotency
		}
		m.idem[key] = true
	}

	balance := m.balances[exec.ActorID]
	switch exec.Side {
	case SideBuy:
		cost := exec.NotionalMicros + exec.FeeMicros
		if balance < cost {
			return TradeReceipt{}, ErrInsufficientFunds
		}
		pos := m.position(exec.ActorID, exec.Instrument.ID)
		if pos.qtyUnits == 0 {
			pos.avgMicros = exec.ExecPriceMicros
			pos.qtyUnits = exec.QuantityUnits
		} else {
			avg, err := WeightedAverageMicros(pos.qtyUnits, pos.avgMicros, exec.QuantityUnits, exec.ExecPriceMicros)
			if err != nil {
				return TradeReceipt{}, err
			}
			pos.qtyUnits += exec.QuantityUnits
			pos.avgMicros = avg
		}
		balance -= cost
	case SideSell:
		pos := m.position(exec.ActorID, exec.Instrument.ID)
		if pos.qtyUnits < exec.QuantityUnits {
			return TradeReceipt{}, ErrInsufficientShares
		}
		pos.qtyUnits -= exec.QuantityUnits
		balance += exec.NotionalMicros - exec.FeeMicros
	}
	m.balances[exec.ActorID] = balance

	m.nextOrderID++
	return TradeReceipt{OrderID: m.nextOrderID, BalanceMicros: balance}, nil
}

func (m *memStore) position(actorID string, instrumentID int64) *memPosition {
	byInst, ok := m.holdings[actorID]
	if !ok {
		byInst = make(map[int64]*memPosition)
		m.holdings[actorID] = byInst
	}
	pos, ok := byInst[instrumentID]
	if !ok {
		pos = &memPosition{}
		byInst[instrumentID] = pos
	}
	return pos
}

func (m *memStore) EnsureSession(_ context.Context, instrumentID int64, day string, priceMicros int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d|%s", instrumentID, day)
	if open, ok := m.sessions[key]; ok {
		return open, nil
	}
	m.sessions[key] = priceMicros
	return priceMicros, nil
}

func (m *memStore) HaltExists(_ context.Context, instrumentID int64, level int, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.halts {
		if h.InstrumentID == instrumentID && h.Level == level && sessionDay(h.StartAt) == day {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertHalt(_ context.Context, halt Halt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHaltID++
	halt.ID = m.nextHaltID
	m.halts = append(m.halts, halt)
	return nil
}

func (m *memStore) ActiveHalt(_ context.Context, instrumentID int64, now time.Time) (*Halt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Halt
	for i := range m.halts {
		h := m.halts[i]
		if h.InstrumentID != instrumentID {
			continue
		}
		if h.EndAt != nil && !h.EndAt.After(now) {
			continue
		}
		if best == nil || h.Level > best.Level {
			best = &h
		}
	}
	return best, nil
}

func (m *memStore) ListHalts(_ context.Context, since time.Time) ([]Halt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Halt
	for _, h := range m.halts {
		if !h.StartAt.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) TradeWindow(_ context.Context, actorID string, minuteStart time.Time) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s|%d", actorID, minuteStart.Unix())
	return m.windows[key], m.lastTrade[actorID], nil
}

func (m *memStore) RecordTradeWindow(_ context.Context, actorID string, minuteStart time.Time, notionalMicros int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s|%d", actorID, minuteStart.Unix())
	m.windows[key] += notionalMicros
	m.lastTrade[actorID] = at
	return nil
}

func (m *memStore) PruneTradeWindows(_ context.Context, actorID string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := actorID + "|"
	for key := range m.windows {
		var bucket int64
		if _, err := fmt.Sscanf(key, prefix+"%d", &bucket); err != nil {
			continue
		}
		if time.Unix(bucket, 0).Before(before) {
			delete(m.windows, key)
		}
	}
	return nil
}

func (m *memStore) Balance(_ context.Context, actorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[actorID], nil
}

func (m *memStore) Credit(_ context.Context, actorID string, amountMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[actorID] += amountMicros
	return nil
}

func (m *memStore) Debit(_ context.Context, actorID string, amountMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[actorID] < amountMicros {
		return ErrInsufficientFunds
	}
	m.balances[actorID] -= amountMicros
	return nil
}

func (m *memStore) Quantity(_ context.Context, actorID string, instrumentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if byInst, ok := m.holdings[actorID]; ok {
		if pos, ok := byInst[instrumentID]; ok {
			return pos.qtyUnits, nil
		}
	}
	return 0, nil
}

func (m *memStore) AddPosition(_ context.Context, actorID string, instrumentID, qtyUnits, priceMicros int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.position(actorID, instrumentID)
	if pos.qtyUnits == 0 {
		pos.avgMicros = priceMicros
		pos.qtyUnits = qtyUnits
		return nil
	}
	avg, err := WeightedAverageMicros(pos.qtyUnits, pos.avgMicros, qtyUnits, priceMicros)
	if err != nil {
		return err
	}
	pos.qtyUnits += qtyUnits
	pos.avgMicros = avg
	return nil
}

func (m *memStore) RemovePosition(_ context.Context, actorID string, instrumentID, qtyUnits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.position(actorID, instrumentID)
	if pos.qtyUnits < qtyUnits {
		return ErrInsufficientShares
	}
	pos.qtyUnits -= qtyUnits
	return nil
}

// fixedNoise always returns the same draw, making price steps exact.
type fixedNoise struct{ v float64 }

func (n fixedNoise) Float64() float64 { return n.v }

// seqNoise replays a fixed sequence, wrapping at the end.
type seqNoise struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (n *seqNoise) Float64() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.vals[n.i%len(n.vals)]
	n.i++
	return v
}
