package market

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactorImpactClamped(t *testing.T) {
	f := FactorState{Value: 1, Intensity: 1}
	if got := f.Impact(); got != 1 {
		t.Fatalf("got %f", got)
	}
	f = FactorState{Value: -0.5, Intensity: 0.5}
	assert.InDelta(t, -0.25, f.Impact(), 1e-9)
}

func TestApplyEventUnknownFactor(t *testing.T) {
	m := NewInfluenceModel(NewNoise(1))
	if err := m.ApplyEvent("weather", 0.1, 0.1); err != ErrUnknownFactor {
		t.Fatalf("got %v", err)
	}
}

func TestApplyEventClampsState(t *testing.T) {
	m := NewInfluenceModel(NewNoise(1))
	if err := m.ApplyEvent(FactorEconomy, 5, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	st := snap[FactorEconomy]
	if st.Value != 1 || st.Intensity != 1 {
		t.Fatalf("expected clamped state, got %+v", st)
	}
}

func TestSentimentBounded(t *testing.T) {
	m := NewInfluenceModel(NewNoise(7))
	for _, f := range AllFactors {
		_ = m.ApplyEvent(f, 5, 5)
	}
	if got := m.Sentiment(); got != 1 {
		t.Fatalf("expected saturated sentiment 1, got %f", got)
	}
}

func TestAdvanceDecaysTowardNeutral(t *testing.T) {
	// Noise below the perturbation probability would reseed factors; 0.99
	// guarantees pure decay.
	m := NewInfluenceModel(fixedNoise{v: 0.99})
	_ = m.ApplyEvent(FactorRates, 1, 1)
	before := m.Snapshot()[FactorRates]

	m.Advance()
	after := m.Snapshot()[FactorRates]
	if after.Value >= before.Value {
		t.Fatalf("value did not decay: %f -> %f", before.Value, after.Value)
	}
	if after.Intensity >= before.Intensity {
		t.Fatalf("intensity did not decay: %f -> %f", before.Intensity, after.Intensity)
	}
}

func TestReasonFluctuationWhenNothingMaterial(t *testing.T) {
	m := NewInfluenceModel(fixedNoise{v: 0.5})
	// fixedNoise 0.5 seeds every factor with value 0, so nothing is material.
	if got := m.Reason(0.01); got != ReasonFluctuation {
		t.Fatalf("got %q", got)
	}
}

func TestReasonNamesMaterialFactorsSorted(t *testing.T) {
	m := NewInfluenceModel(fixedNoise{v: 0.5})
	_ = m.ApplyEvent(FactorSector, 0.8, 0.9)
	_ = m.ApplyEvent(FactorEconomy, -0.8, 0.9)

	got := m.Reason(0.01)
	want := strings.Join([]string{string(FactorEconomy), string(FactorSector)}, ",")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
