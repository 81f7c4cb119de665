package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryPutGetList(t *testing.T) {
	r := NewRegistry()
	r.Put(Instrument{ID: 2, Symbol: "VECTRA"})
	r.Put(Instrument{ID: 1, Symbol: "NIMBUS"})
	r.Put(Instrument{ID: 3, Symbol: "ARCANE"})

	if got := r.Len(); got != 3 {
		t.Fatalf("len got %d", got)
	}

	inst, ok := r.Get("VECTRA")
	if !ok || inst.ID != 2 {
		t.Fatalf("get by symbol: %+v %v", inst, ok)
	}
	inst, ok = r.GetByID(1)
	if !ok || inst.Symbol != "NIMBUS" {
		t.Fatalf("get by id: %+v %v", inst, ok)
	}
	if _, ok := r.Get("GHOST"); ok {
		t.Fatalf("unknown symbol must miss")
	}
	if _, ok := r.GetByID(99); ok {
		t.Fatalf("unknown id must miss")
	}

	list := r.List()
	symbols := make([]string, len(list))
	for i, inst := range list {
		symbols[i] = inst.Symbol
	}
	if symbols[0] != "ARCANE" || symbols[1] != "NIMBUS" || symbols[2] != "VECTRA" {
		t.Fatalf("list not sorted by symbol: %v", symbols)
	}
}

func TestRegistryPutOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Put(Instrument{ID: 1, Symbol: "NIMBUS", DisplayName: "Nimbus"})
	r.Put(Instrument{ID: 1, Symbol: "NIMBUS", DisplayName: "Nimbus Labs"})
	if got := r.Len(); got != 1 {
		t.Fatalf("len got %d", got)
	}
	inst, _ := r.Get("NIMBUS")
	if inst.DisplayName != "Nimbus Labs" {
		t.Fatalf("put should overwrite, got %q", inst.DisplayName)
	}
}

func TestLoadRegistry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	seedThreshold := NewThresholdController()
	seedRegistry := NewRegistry()
	inst, err := RegisterInstrument(ctx, store, seedRegistry, seedThreshold, Instrument{
		Symbol:      "NIMBUS",
		DisplayName: "Nimbus Labs",
	}, 95*MicrosPerCredit)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// A fresh process loads the registry and threshold baselines from the store.
	threshold := NewThresholdController()
	r, err := LoadRegistry(ctx, store, threshold)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("len got %d", got)
	}
	loaded, ok := r.Get("NIMBUS")
	if !ok || loaded.ID != inst.ID {
		t.Fatalf("loaded instrument: %+v %v", loaded, ok)
	}
	assert.InDelta(t, 0.25, threshold.DampingFactor(inst.ID), 1e-9)
}
