package market

import (
	"context"
	"errors"
	"fmt"
)

// RegisterInstrument creates the instrument and its initial state together,
// then wires it into the in-memory registry and threshold baseline.
func RegisterInstrument(ctx context.Context, store Store, registry *Registry, threshold *ThresholdController, inst Instrument, initialPriceMicros int64) (Instrument, error) {
	inst.Symbol = normalizeSymbol(inst.Symbol)
	if err := ValidateSymbol(inst.Symbol); err != nil {
		return Instrument{}, err
	}
	if initialPriceMicros <= 0 {
		return Instrument{}, fmt.Errorf("initial price must be > 0")
	}
	if inst.VolatilityRating <= 0 {
		inst.VolatilityRating = 0.5
	}
	if inst.SharesOutstanding <= 0 {
		inst.SharesOutstanding = 1_000_000 * ShareScale
	}
	created, err := store.CreateInstrument(ctx, inst, initialPriceMicros)
	if err != nil {
		return Instrument{}, err
	}
	registry.Put(created)
	threshold.RecordInitialPrice(created.ID, initialPriceMicros)
	return created, nil
}

type seedRow struct {
	Symbol   string
	Name     string
	Category string
	Price    int64
	Rating   float64
}

var defaultBoard = []seedRow{
	{"COBOLT", "Cobalt Dynamics", "industrials", 130 * MicrosPerCredit, 0.45},
	{"NIMBUS", "Nimbus Labs", "technology", 95 * MicrosPerCredit, 0.70},
	{"RUSTIC", "Rustic Systems", "technology", 115 * MicrosPerCredit, 0.55},
	{"PYLONS", "Pylon Networks", "telecom", 80 * MicrosPerCredit, 0.40},
	{"JAVOLT", "Javolt Cloud", "technology", 105 * MicrosPerCredit, 0.60},
	{"SWIFTR", "Swiftr Mobile", "consumer", 150 * MicrosPerCredit, 0.65},
	{"NODEON", "Nodeon Runtime", "technology", 120 * MicrosPerCredit, 0.75},
	{"ELIXIR", "Elixir Ops", "healthcare", 125 * MicrosPerCredit, 0.50},
	{"VECTRA", "Vectra AI", "technology", 165 * MicrosPerCredit, 0.85},
	{"CYBRON", "Cybron Secure", "technology", 140 * MicrosPerCredit, 0.60},
	{"FUSION", "Fusion Grid", "energy", 110 * MicrosPerCredit, 0.55},
	{"NEBULA", "Nebula Energy", "energy", 92 * MicrosPerCredit, 0.50},
	{"ORBITZ", "Orbitz Space", "industrials", 180 * MicrosPerCredit, 0.80},
	{"ZENITH", "Zenith Retail", "consumer", 75 * MicrosPerCredit, 0.35},
	{"ARCANE", "Arcane Finance", "financials", 145 * MicrosPerCredit, 0.55},
	{"LUMINA", "Lumina Health", "healthcare", 102 * MicrosPerCredit, 0.40},
}

// SeedDefaults registers the default instrument board when the store is
// empty. Safe to call on every startup.
func SeedDefaults(ctx context.Context, store Store, registry *Registry, threshold *ThresholdController) error {
	existing, err := store.ListInstruments(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, row := range defaultBoard {
		_, err := RegisterInstrument(ctx, store, registry, threshold, Instrument{
			Symbol:           row.Symbol,
			DisplayName:      row.Name,
			Category:         row.Category,
			Precision:        2,
			VolatilityRating: row.Rating,
		}, row.Price)
		if err != nil && !errors.Is(err, ErrDuplicateIdempotency) {
			return fmt.Errorf("seed %s: %w", row.Symbol, err)
		}
	}
	return nil
}
