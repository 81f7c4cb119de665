package market

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
)

// Noise is the injectable randomness source behind the simulation. Float64
// must return values in [0, 1).
type Noise interface {
	Float64() float64
}

type lockedNoise struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (n *lockedNoise) Float64() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.r.Float64()
}

// NewNoise returns a mutex-guarded pseudo-random source. Pass a fixed seed for
// reproducible simulation ticks.
func NewNoise(seed int64) Noise {
	return &lockedNoise{r: rand.New(rand.NewSource(seed))}
}

// symmetric maps a [0,1) draw onto [-1,1).
func symmetric(n Noise) float64 {
	return 2*n.Float64() - 1
}

type Factor string

const (
	FactorEconomy     Factor = "economic_outlook"
	FactorSector      Factor = "sector_momentum"
	FactorRates       Factor = "interest_rates"
	FactorCommodities Factor = "commodity_prices"
	FactorConfidence  Factor = "investor_confidence"
)

var AllFactors = []Factor{
	FactorEconomy,
	FactorSector,
	FactorRates,
	FactorCommodities,
	FactorConfidence,
}

// ReasonFluctuation tags a price tick no material factor can explain.
const ReasonFluctuation = "random fluctuation"

type FactorState struct {
	Value     float64 `json:"value"`     // signed, roughly [-1, 1]
	Intensity float64 `json:"intensity"` // [0, 1]
}

// Impact is value x intensity clamped to [-1, 1].
func (f FactorState) Impact() float64 {
	return clampFloat(f.Value*f.Intensity, -1, 1)
}

// InfluenceModel holds the macro mood of the market: one entry per factor,
// decayed and randomly perturbed each tick. State lives only in process
// memory; only its effect on prices survives, through price history.
type InfluenceModel struct {
	mu      sync.Mutex
	factors map[Factor]*FactorState
	noise   Noise

	decay        float64 // per-tick pull of value toward zero
	perturbProb  float64
	perturbScale float64
}

func NewInfluenceModel(noise Noise) *InfluenceModel {
	m := &InfluenceModel{
		factors:      make(map[Factor]*FactorState, len(AllFactors)),
		noise:        noise,
		decay:        0.02,
		perturbProb:  0.15,
		perturbScale: 0.25,
	}
	for _, f := range AllFactors {
		m.factors[f] = &FactorState{
			Value:     0.2 * symmetric(noise),
			Intensity: 0.3 + 0.4*noise.Float64(),
		}
	}
	return m
}

// Advance decays every factor toward neutral and probabilistically reseeds it
// with a fresh disturbance.
func (m *InfluenceModel) Advance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.factors {
		st.Value *= 1 - m.decay
		st.Intensity *= 1 - m.decay/2
		if m.noise.Float64() < m.perturbProb {
			st.Value += m.perturbScale * symmetric(m.noise)
			st.Intensity += 0.1 * m.noise.Float64()
		}
		st.Value = clampFloat(st.Value, -1, 1)
		st.Intensity = clampFloat(st.Intensity, 0, 1)
	}
}

// ApplyEvent nudges a single factor, e.g. from an admin-injected headline.
func (m *InfluenceModel) ApplyEvent(f Factor, valueDelta, intensityDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.factors[f]
	if !ok {
		return ErrUnknownFactor
	}
	st.Value = clampFloat(st.Value+valueDelta, -1, 1)
	st.Intensity = clampFloat(st.Intensity+intensityDelta, 0, 1)
	return nil
}

// Sentiment is the mean impact across all factors, clamped to [-1, 1].
func (m *InfluenceModel) Sentiment() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.factors) == 0 {
		return 0
	}
	var sum float64
	for _, st := range m.factors {
		sum += st.Impact()
	}
	return clampFloat(sum/float64(len(m.factors)), -1, 1)
}

// MaterialFactors returns the names of factors whose absolute impact exceeds
// threshold, sorted for a stable reason tag.
func (m *InfluenceModel) MaterialFactors(threshold float64) []Factor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Factor
	for f, st := range m.factors {
		if impact := st.Impact(); impact > threshold || impact < -threshold {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reason renders the tick's reason tag: material factor names joined by
// commas, or the fluctuation sentinel when none qualify.
func (m *InfluenceModel) Reason(threshold float64) string {
	factors := m.MaterialFactors(threshold)
	if len(factors) == 0 {
		return ReasonFluctuation
	}
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

// Snapshot copies the current factor states for read-only callers.
func (m *InfluenceModel) Snapshot() map[Factor]FactorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Factor]FactorState, len(m.factors))
	for f, st := range m.factors {
		out[f] = *st
	}
	return out
}
