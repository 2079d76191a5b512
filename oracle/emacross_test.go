package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/sizer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closes(vs ...int64) []market.Bar {
	out := make([]market.Bar, len(vs))
	for i, v := range vs {
		d := decimal.NewFromInt(v)
		out[i] = market.Bar{
			Time:  time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			Open:  d,
			High:  d.Add(decimal.NewFromInt(1)),
			Low:   d.Sub(decimal.NewFromInt(1)),
			Close: d,
		}
	}
	return out
}

func crossContext(bars []market.Bar, qty string) Context {
	return Context{
		RecentBars: bars,
		Account:    ledger.Account{Quantity: decimal.RequireFromString(qty)},
		Limits: sizer.Limits{
			MaxReverseBuy:   decimal.NewFromInt(110),
			MaxReverseShort: decimal.NewFromInt(13),
		},
	}
}

func TestEMACrossDecisions(t *testing.T) {
	t.Parallel()

	bull := closes(10, 9, 8, 7, 6, 5, 9)
	bear := closes(5, 6, 7, 8, 9, 10, 6)
	rising := closes(1, 2, 3, 4, 5, 6, 7)

	base := EMACross{FastPeriod: 2, SlowPeriod: 4, Fraction: decimal.RequireFromString("0.5")}
	shorty := base
	shorty.AllowShort = true

	tests := []struct {
		name   string
		o      EMACross
		in     Context
		action ledger.Action
		qty    string
	}{
		{"warming up", base, crossContext(bull[:4], "0"), ledger.Hold, "0"},
		{"no cross", base, crossContext(rising, "0"), ledger.Hold, "0"},
		{"bull cross flat", base, crossContext(bull, "0"), ledger.Buy, "55"},
		{"bull cross short", base, crossContext(bull, "-10"), ledger.Buy, "60"},
		{"bull cross long", base, crossContext(bull, "2"), ledger.Hold, "0"},
		{"bear cross long", base, crossContext(bear, "3"), ledger.Sell, "3"},
		{"bear cross flat", base, crossContext(bear, "0"), ledger.Hold, "0"},
		{"bear cross long with shorts", shorty, crossContext(bear, "3"), ledger.Sell, "8"},
		{"bear cross short", shorty, crossContext(bear, "-1"), ledger.Hold, "0"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, err := tc.o.Decide(context.Background(), tc.in)
			require.NoError(t, err)
			require.NoError(t, Validate(d))
			assert.Equal(t, tc.action, d.Action, d.Reasoning)
			assert.Equal(t, tc.qty, d.Quantity.String())
		})
	}
}

func TestEMACrossADXFilter(t *testing.T) {
	t.Parallel()
	o := EMACross{FastPeriod: 2, SlowPeriod: 4, ADXPeriod: 2, MinADX: 101, Fraction: decimal.NewFromInt(1)}
	d, err := o.Decide(context.Background(), crossContext(closes(10, 9, 8, 7, 6, 5, 9), "0"))
	require.NoError(t, err)
	assert.Equal(t, ledger.Hold, d.Action)
	assert.Contains(t, d.Reasoning, "ADX")
}

func TestEMACrossATRFilter(t *testing.T) {
	t.Parallel()
	// The last bar gaps from 5 to 9, so ATR(2) is 3.5, about 38.9% of the close.
	bull := closes(10, 9, 8, 7, 6, 5, 9)

	tests := []struct {
		name   string
		maxPct float64
		action ledger.Action
	}{
		{"too volatile", 30, ledger.Hold},
		{"calm enough", 50, ledger.Buy},
		{"disabled", 0, ledger.Buy},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := EMACross{FastPeriod: 2, SlowPeriod: 4, ATRPeriod: 2, MaxATRPercent: tc.maxPct, Fraction: decimal.NewFromInt(1)}
			d, err := o.Decide(context.Background(), crossContext(bull, "0"))
			require.NoError(t, err)
			assert.Equal(t, tc.action, d.Action, d.Reasoning)
			if tc.action == ledger.Hold {
				assert.Contains(t, d.Reasoning, "ATR 38.89%")
			}
		})
	}
}

func TestEMACrossValidateAndLookback(t *testing.T) {
	t.Parallel()
	def := DefaultEMACross()
	require.NoError(t, def.Validate())
	assert.Equal(t, 31, def.Lookback())

	def.ADXPeriod = 20
	assert.Equal(t, 41, def.Lookback())

	def.ADXPeriod = 0
	def.ATRPeriod = 50
	assert.Equal(t, 31, def.Lookback(), "atr period without a limit is ignored")
	def.MaxATRPercent = 5
	assert.Equal(t, 51, def.Lookback())

	bad := []EMACross{
		{FastPeriod: 5, SlowPeriod: 5, Fraction: decimal.NewFromInt(1)},
		{FastPeriod: 0, SlowPeriod: 5, Fraction: decimal.NewFromInt(1)},
		{FastPeriod: 2, SlowPeriod: 5, ADXPeriod: -1, Fraction: decimal.NewFromInt(1)},
		{FastPeriod: 2, SlowPeriod: 5, ATRPeriod: -1, Fraction: decimal.NewFromInt(1)},
		{FastPeriod: 2, SlowPeriod: 5, MaxATRPercent: -1, Fraction: decimal.NewFromInt(1)},
		{FastPeriod: 2, SlowPeriod: 5},
		{FastPeriod: 2, SlowPeriod: 5, Fraction: decimal.NewFromInt(2)},
	}
	for _, o := range bad {
		assert.Error(t, o.Validate())
	}
}
