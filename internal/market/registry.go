package market

import (
	"context"
	"sort"
	"sync"
)

// Registry is the in-memory instrument directory: request handlers read it
// concurrently while the scheduler walks it every tick.
type Registry struct {
	mu       sync.RWMutex
	byID     map[int64]Instrument
	bySymbol map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[int64]Instrument),
		bySymbol: make(map[string]int64),
	}
}

func (r *Registry) Put(inst Instrument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inst.ID] = inst
	r.bySymbol[inst.Symbol] = inst.ID
}

func (r *Registry) Get(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySymbol[symbol]
	if !ok {
		return Instrument{}, false
	}
	inst, ok := r.byID[id]
	return inst, ok
}

func (r *Registry) GetByID(id int64) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// List snapshots all instruments sorted by symbol.
func (r *Registry) List() []Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instrument, 0, len(r.byID))
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// LoadRegistry fills a registry from the store and seeds the threshold
// controller's baselines from the live quotes.
func LoadRegistry(ctx context.Context, store Store, threshold *ThresholdController) (*Registry, error) {
	quotes, err := store.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, q := range quotes {
		r.Put(q.Instrument)
		if threshold != nil {
			threshold.RecordInitialPrice(q.Instrument.ID, q.State.PriceMicros)
		}
	}
	return r, nil
}
