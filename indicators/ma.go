package indicators

import (
	"fmt"

	"github.com/rustyeddy/tradesim/market"
)

// MA calculates the Simple Moving Average of the last period closes.
func MA(bars []market.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough bars: need %d, got %d", period, len(bars))
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += closeOf(bars[i])
	}
	return sum / float64(period), nil
}

// EMA calculates the Exponential Moving Average of closes, seeded with the
// SMA of the first period bars.
func EMA(bars []market.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(bars) < period {
		return 0, fmt.Errorf("not enough bars: need %d, got %d", period, len(bars))
	}

	multiplier := 2.0 / float64(period+1)

	sma := 0.0
	for i := 0; i < period; i++ {
		sma += closeOf(bars[i])
	}
	ema := sma / float64(period)

	for i := period; i < len(bars); i++ {
		ema = (closeOf(bars[i])-ema)*multiplier + ema
	}
	return ema, nil
}

// StreamingEMA is the streaming form of EMA. It seeds with the SMA of the
// first period closes, so after the same bars it agrees with EMA.
type StreamingEMA struct {
	period int
	alpha  float64

	seen  int
	sum   float64
	value float64
}

func NewEMA(period int) *StreamingEMA {
	if period <= 0 {
		panic("EMA period must be > 0")
	}
	return &StreamingEMA{period: period, alpha: 2.0 / float64(period+1)}
}

func (e *StreamingEMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }
func (e *StreamingEMA) Warmup() int  { return e.period }
func (e *StreamingEMA) Ready() bool  { return e.seen >= e.period }

func (e *StreamingEMA) Reset() {
	e.seen = 0
	e.sum = 0
	e.value = 0
}

func (e *StreamingEMA) Update(b market.Bar) {
	x := closeOf(b)
	e.seen++
	switch {
	case e.seen < e.period:
		e.sum += x
	case e.seen == e.period:
		e.sum += x
		e.value = e.sum / float64(e.period)
	default:
		e.value = (x-e.value)*e.alpha + e.value
	}
}

func (e *StreamingEMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}
