package market

import "sync"

// ThresholdController damps how far a single tick may move a price based on
// recent trading activity: illiquid instruments move on a short leash, busy
// ones swing closer to the raw simulated delta. It composes with the circuit
// breaker, which decides whether trading happens at all.
type ThresholdController struct {
	mu      sync.Mutex
	entries map[int64]*thresholdEntry

	minDamping     float64
	activityTarget int64 // units of recent volume for full damping
}

type thresholdEntry struct {
	openPriceMicros int64
	activityUnits   int64
}

func NewThresholdController() *ThresholdController {
	return &ThresholdController{
		entries:        make(map[int64]*thresholdEntry),
		minDamping:     0.25,
		activityTarget: 50 * ShareScale,
	}
}

// RecordInitialPrice seeds the baseline when an instrument is registered.
func (c *ThresholdController) RecordInitialPrice(instrumentID, priceMicros int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[instrumentID]; !ok {
		c.entries[instrumentID] = &thresholdEntry{openPriceMicros: priceMicros}
	}
}

// RecordTradingActivity is called by the execution pipeline on every fill.
func (c *ThresholdController) RecordTradingActivity(instrumentID, qtyUnits int64) {
	if qtyUnits <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[instrumentID]
	if !ok {
		e = &thresholdEntry{}
		c.entries[instrumentID] = e
	}
	e.activityUnits += qtyUnits
}

// ResetTradingActivity decays every activity counter; the scheduler calls it
// once a minute so old liquidity stops widening the damping window.
func (c *ThresholdController) ResetTradingActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.activityUnits /= 2
	}
}

// DampingFactor is in (0, 1]: minDamping with no recent activity, rising
// linearly to 1 at the activity target.
func (c *ThresholdController) DampingFactor(instrumentID int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[instrumentID]
	if !ok {
		return c.minDamping
	}
	frac := float64(e.activityUnits) / float64(c.activityTarget)
	if frac > 1 {
		frac = 1
	}
	return c.minDamping + (1-c.minDamping)*frac
}
