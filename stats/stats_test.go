package stats

import (
	"math"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var D = ledger.D

func snap(day int, total string) journal.Snapshot {
	return journal.Snapshot{
		Timestamp:  time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		TotalValue: D(total),
		Cash:       D(total),
	}
}

func tr(id string, act ledger.Action, price string, day int, openID string) journal.TradeRecord {
	return journal.TradeRecord{
		ID:        id,
		Action:    act,
		Side:      act.PositionSide(),
		Quantity:  D("1"),
		Price:     D(price),
		TotalFees: D("1"),
		OpenID:    openID,
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
	}
}

func TestMaxDrawdownIncludesInitialBalance(t *testing.T) {
	t.Parallel()

	s := Compute(nil, []journal.Snapshot{snap(3, "95000"), snap(1, "100000"), snap(2, "90000")}, D("100000"), DefaultOptions())
	assert.InDelta(t, 0.10, s.MaxDrawdown, 1e-12)
	assert.InDelta(t, -0.05, s.CumulativeReturn, 1e-12)
	assert.InDelta(t, 95000, s.FinalTotalValue, 1e-9)

	// A first snapshot below the initial balance is still a drawdown.
	s = Compute(nil, []journal.Snapshot{snap(1, "80000")}, D("100000"), DefaultOptions())
	assert.InDelta(t, 0.20, s.MaxDrawdown, 1e-12)
	assert.Zero(t, s.SharpeRatio)
}

func TestSharpe(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Sharpe([]float64{100, 100, 100}, 0.03, 365))
	assert.Zero(t, Sharpe([]float64{100}, 0.03, 365))

	values := []float64{100, 110, 99}
	// returns 0.1 and -0.1: mean 0, population std 0.1
	want := (0 - 0.03/365) / 0.1 * math.Sqrt(365)
	assert.InDelta(t, want, Sharpe(values, 0.03, 365), 1e-9)

	s := Compute(nil, []journal.Snapshot{snap(1, "110"), snap(2, "99")}, D("100"), DefaultOptions())
	assert.InDelta(t, want, s.SharpeRatio, 1e-9)
}

func TestWinMetrics(t *testing.T) {
	t.Parallel()

	trades := []journal.TradeRecord{
		tr("b1", ledger.Buy, "100", 1, ""),
		tr("s1", ledger.Sell, "110", 3, "b1"), // +10%
		tr("x1", ledger.ShortSell, "200", 4, ""),
		tr("c1", ledger.CoverShort, "220", 5, "x1"), // -10%
		tr("b2", ledger.Buy, "50", 6, ""),
		tr("s2", ledger.Sell, "75", 6, "b2"), // +50%
		tr("s3", ledger.Sell, "75", 7, ""),   // unmatched close
	}
	snaps := []journal.Snapshot{snap(1, "100000"), snap(7, "100100")}

	s := Compute(trades, snaps, D("100000"), DefaultOptions())
	assert.Equal(t, 7, s.TotalTrades)
	assert.Equal(t, 4, s.ClosingTrades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.InDelta(t, 0.3, s.AvgProfit, 1e-12)
	assert.InDelta(t, -0.1, s.AvgLoss, 1e-12)
	assert.InDelta(t, 3.0, s.ProfitLossRatio, 1e-9)
	assert.InDelta(t, 0.5, s.MaxSingleProfit, 1e-12)
	assert.InDelta(t, 7, s.TotalFees, 1e-12)
	assert.InDelta(t, 0.07, s.FeesToProfitRatio, 1e-12)
	assert.InDelta(t, 1.0, s.TradesPerDay, 1e-12)
	assert.InDelta(t, 1.0, s.AvgHoldDays, 1e-12)
}

func TestEmptyInputs(t *testing.T) {
	t.Parallel()

	s := Compute(nil, nil, D("1000"), Options{})
	require.Zero(t, s.CumulativeReturn)
	require.Zero(t, s.MaxDrawdown)
	require.Zero(t, s.WinRate)
	require.Zero(t, s.ProfitLossRatio)
	assert.InDelta(t, 1000, s.InitialBalance, 1e-9)
}
