package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// EMACross buys when the fast EMA of closes crosses above the slow EMA
// and sells when it crosses below. Every decision is recomputed from the
// recent bars, so it keeps no state between calls.
//
//   - Enters only on a cross
//   - A buy cross while short covers the short, then opens Fraction of
//     what is left
//   - A sell cross while long sells the long, then shorts Fraction of what
//     is left when AllowShort is set
//   - With ADXPeriod > 0, crosses are ignored while ADX is below MinADX
//   - With ATRPeriod > 0 and MaxATRPercent > 0, crosses are ignored while
//     ATR is above MaxATRPercent of the close
type EMACross struct {
	FastPeriod    int             `json:"fast_period" yaml:"fast_period"`
	SlowPeriod    int             `json:"slow_period" yaml:"slow_period"`
	ADXPeriod     int             `json:"adx_period" yaml:"adx_period"`
	MinADX        float64         `json:"min_adx" yaml:"min_adx"`
	ATRPeriod     int             `json:"atr_period,omitempty" yaml:"atr_period,omitempty"`
	MaxATRPercent float64         `json:"max_atr_percent,omitempty" yaml:"max_atr_percent,omitempty"`
	Fraction      decimal.Decimal `json:"fraction" yaml:"fraction"`
	AllowShort    bool            `json:"allow_short" yaml:"allow_short"`
}

func DefaultEMACross() EMACross {
	return EMACross{
		FastPeriod: 10,
		SlowPeriod: 30,
		ADXPeriod:  14,
		MinADX:     20,
		Fraction:   decimal.RequireFromString("0.5"),
	}
}

func (e EMACross) Validate() error {
	if e.FastPeriod <= 0 || e.SlowPeriod <= 0 || e.FastPeriod >= e.SlowPeriod {
		return fmt.Errorf("ema cross: require 0 < fast < slow (got %d/%d)", e.FastPeriod, e.SlowPeriod)
	}
	if e.ADXPeriod < 0 {
		return fmt.Errorf("ema cross: adx period must not be negative")
	}
	if e.ATRPeriod < 0 || e.MaxATRPercent < 0 {
		return fmt.Errorf("ema cross: atr period and max atr percent must not be negative")
	}
	if !e.Fraction.IsPositive() || e.Fraction.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("ema cross: fraction must be in (0, 1], got %s", e.Fraction)
	}
	return nil
}

// Lookback is the number of recent bars a decision needs.
func (e EMACross) Lookback() int {
	n := e.SlowPeriod + 1
	if e.ADXPeriod > 0 {
		n = max(n, 2*e.ADXPeriod+1)
	}
	if e.atrGate() {
		n = max(n, e.ATRPeriod+1)
	}
	return n
}

func (e EMACross) Decide(_ context.Context, in Context) (*Decision, error) {
	bars := in.RecentBars
	if len(bars) < e.SlowPeriod+1 {
		return HoldDecision(fmt.Sprintf("warming up: %d/%d bars", len(bars), e.SlowPeriod+1)), nil
	}

	prevFast, fast := lastTwo(indicators.NewEMA(e.FastPeriod), bars)
	prevSlow, slow := lastTwo(indicators.NewEMA(e.SlowPeriod), bars)

	lastDiff, diff := prevFast-prevSlow, fast-slow
	bullCross := diff > 0 && lastDiff <= 0
	bearCross := diff < 0 && lastDiff >= 0
	if !bullCross && !bearCross {
		return HoldDecision("no cross"), nil
	}

	// ADX regime filter
	if e.ADXPeriod > 0 {
		v, ready := indicators.Run(indicators.NewADX(e.ADXPeriod), bars)
		if !ready || v < e.MinADX {
			return HoldDecision(fmt.Sprintf("ADX %.1f below %.1f", v, e.MinADX)), nil
		}
	}

	// ATR volatility filter
	if e.atrGate() {
		v, ready := indicators.Run(indicators.NewATR(e.ATRPeriod), bars)
		pct := 0.0
		if last := bars[len(bars)-1].Close.InexactFloat64(); last > 0 {
			pct = v / last * 100
		}
		if !ready || pct > e.MaxATRPercent {
			return HoldDecision(fmt.Sprintf("ATR %.2f%% above %.2f%%", pct, e.MaxATRPercent)), nil
		}
	}

	confidence := 0.0
	if slow != 0 {
		confidence = math.Min(1, math.Abs(diff)/math.Abs(slow)*100)
	}
	reason := fmt.Sprintf("EMA(%d)=%.4f EMA(%d)=%.4f", e.FastPeriod, fast, e.SlowPeriod, slow)

	qty := in.Account.Quantity
	switch {
	case bullCross:
		if qty.IsPositive() {
			return HoldDecision("bull cross, already long"), nil
		}
		short := qty.Abs()
		q := short.Add(e.portion(in.Limits.MaxReverseBuy.Sub(short)))
		if !q.IsPositive() {
			return HoldDecision("bull cross, no buying power"), nil
		}
		return &Decision{Action: ledger.Buy, Quantity: q, Confidence: confidence, Reasoning: "bull cross: " + reason}, nil

	default:
		if qty.IsNegative() {
			return HoldDecision("bear cross, already short"), nil
		}
		q := qty
		if e.AllowShort {
			q = q.Add(e.portion(in.Limits.MaxReverseShort.Sub(qty)))
		}
		if !q.IsPositive() {
			return HoldDecision("bear cross, nothing to sell"), nil
		}
		return &Decision{Action: ledger.Sell, Quantity: q, Confidence: confidence, Reasoning: "bear cross: " + reason}, nil
	}
}

// portion is Fraction of room, floored to ledger precision.
func (e EMACross) portion(room decimal.Decimal) decimal.Decimal {
	if !room.IsPositive() {
		return decimal.Zero
	}
	return ledger.Floor8(room.Mul(e.Fraction))
}

func (e EMACross) atrGate() bool { return e.ATRPeriod > 0 && e.MaxATRPercent > 0 }

// lastTwo streams bars through ind and returns its value before and after
// the last bar.
func lastTwo(ind indicators.Indicator, bars []market.Bar) (prev, cur float64) {
	ind.Reset()
	for _, b := range bars {
		prev = ind.Value()
		ind.Update(b)
	}
	return prev, ind.Value()
}
