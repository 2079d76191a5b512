package indicators

import "github.com/rustyeddy/tradesim/market"

// Periods selects the windows used by Summarize. A zero period leaves its
// value out.
type Periods struct {
	MA  int `json:"ma" yaml:"ma"`
	EMA int `json:"ema" yaml:"ema"`
	ATR int `json:"atr" yaml:"atr"`
	ADX int `json:"adx" yaml:"adx"`
}

func DefaultPeriods() Periods {
	return Periods{MA: 20, EMA: 20, ATR: 14, ADX: 14}
}

// Lookback is the number of bars needed for every value to be warm.
func (p Periods) Lookback() int {
	return max(p.MA, p.EMA, NewATR(p.ATR).Warmup(), NewADX(p.ADX).Warmup())
}

// Summary is a snapshot of indicators at the last bar. Values that are not
// yet warm are zero.
type Summary struct {
	SMA        float64 `json:"sma,omitempty"`
	EMA        float64 `json:"ema,omitempty"`
	ATR        float64 `json:"atr,omitempty"`
	ATRPercent float64 `json:"atr_percent,omitempty"` // ATR as a percentage of the last close
	ADX        float64 `json:"adx,omitempty"`
}

// Summarize computes a Summary over bars.
func Summarize(bars []market.Bar, p Periods) Summary {
	var s Summary
	if len(bars) == 0 {
		return s
	}
	if p.MA > 0 {
		s.SMA, _ = MA(bars, p.MA)
	}
	if p.EMA > 0 {
		s.EMA, _ = EMA(bars, p.EMA)
	}
	if p.ATR > 0 {
		s.ATR, _ = Run(NewATR(p.ATR), bars)
		if last := closeOf(bars[len(bars)-1]); last > 0 {
			s.ATRPercent = s.ATR / last * 100
		}
	}
	if p.ADX > 0 {
		s.ADX, _ = Run(NewADX(p.ADX), bars)
	}
	return s
}
