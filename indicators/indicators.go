// Package indicators provides technical analysis indicators over market
// bars.
package indicators

import "github.com/rustyeddy/tradesim/market"

// Indicator computes a single streaming value from bars.
// It is deterministic: the same bars always give the same value.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)" or "ADX(14)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next closed bar.
	Update(b market.Bar)

	// Ready reports whether Value() is meaningful.
	Ready() bool

	// Value returns the current value, or 0 before warmup completes.
	Value() float64
}

// Run feeds bars through ind from a clean state and returns the final
// value and whether it is ready.
func Run(ind Indicator, bars []market.Bar) (float64, bool) {
	ind.Reset()
	for _, b := range bars {
		ind.Update(b)
	}
	return ind.Value(), ind.Ready()
}

func closeOf(b market.Bar) float64 { return b.Close.InexactFloat64() }
