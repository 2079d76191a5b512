// Package stats computes performance metrics for a finished backtest from
// its trades and snapshots. Everything here is pure.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
)

const (
	DefaultRiskFreeRate   = 0.03
	DefaultPeriodsPerYear = 365
)

type Options struct {
	// RiskFreeRate is annual, e.g. 0.03.
	RiskFreeRate float64
	// PeriodsPerYear annualizes the per-snapshot Sharpe ratio.
	PeriodsPerYear int
}

func DefaultOptions() Options {
	return Options{RiskFreeRate: DefaultRiskFreeRate, PeriodsPerYear: DefaultPeriodsPerYear}
}

// Stats is the metric set cached on a completed task. Ratios are
// fractions: a WinRate of 0.6 means 60% of closing trades were profitable.
type Stats struct {
	CumulativeReturn float64 `json:"cumulative_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	WinRate          float64 `json:"win_rate"`
	AvgProfit        float64 `json:"avg_profit"`
	AvgLoss          float64 `json:"avg_loss"`
	ProfitLossRatio  float64 `json:"profit_loss_ratio"`
	MaxSingleProfit  float64 `json:"max_single_profit"`

	TotalTrades       int     `json:"total_trades"`
	ClosingTrades     int     `json:"closing_trades"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	TotalFees         float64 `json:"total_fees"`
	FeesToProfitRatio float64 `json:"fees_to_profit_ratio"`
	TradesPerDay      float64 `json:"trades_per_day"`
	AvgHoldDays       float64 `json:"avg_hold_days"`

	InitialBalance  float64 `json:"initial_balance"`
	FinalCash       float64 `json:"final_cash"`
	FinalTotalValue float64 `json:"final_total_value"`
}

// Compute derives Stats. Snapshots may arrive in any order; trades are
// expected in execution order.
func Compute(trades []journal.TradeRecord, snapshots []journal.Snapshot, initial decimal.Decimal, opts Options) Stats {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}

	snaps := append([]journal.Snapshot(nil), snapshots...)
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })

	base := initial.InexactFloat64()
	s := Stats{
		InitialBalance: base,
		TotalTrades:    len(trades),
	}

	values := make([]float64, 0, len(snaps)+1)
	values = append(values, base)
	for _, sn := range snaps {
		values = append(values, sn.TotalValue.InexactFloat64())
	}

	if len(snaps) > 0 && base > 0 {
		last := snaps[len(snaps)-1]
		s.CumulativeReturn = (last.TotalValue.InexactFloat64() - base) / base
		s.FinalCash = last.Cash.InexactFloat64()
		s.FinalTotalValue = last.TotalValue.InexactFloat64()
	}
	s.MaxDrawdown = MaxDrawdown(values)
	if len(snaps) >= 2 {
		s.SharpeRatio = Sharpe(values, opts.RiskFreeRate, opts.PeriodsPerYear)
	}

	closes := closeOutcomes(trades)
	s.ClosingTrades = len(closes)
	var profits, losses []float64
	var holdDays float64
	var holdN int
	for _, c := range closes {
		if !c.matched {
			continue
		}
		holdDays += c.holdDays
		holdN++
		switch {
		case c.rate > 0:
			profits = append(profits, c.rate)
			if c.rate > s.MaxSingleProfit {
				s.MaxSingleProfit = c.rate
			}
		case c.rate < 0:
			losses = append(losses, c.rate)
		}
	}
	s.Wins = len(profits)
	s.Losses = len(losses)
	if s.ClosingTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.ClosingTrades)
	}
	s.AvgProfit = mean(profits)
	s.AvgLoss = mean(losses)
	if s.AvgLoss < 0 {
		s.ProfitLossRatio = s.AvgProfit / math.Abs(s.AvgLoss)
	}
	if holdN > 0 {
		s.AvgHoldDays = holdDays / float64(holdN)
	}

	fees := decimal.Zero
	for _, t := range trades {
		fees = fees.Add(t.TotalFees)
	}
	s.TotalFees = fees.InexactFloat64()
	if len(snaps) > 0 {
		pl := snaps[len(snaps)-1].TotalValue.Sub(initial).Abs()
		if pl.IsPositive() {
			s.FeesToProfitRatio = fees.Div(pl).InexactFloat64()
		}
	}

	s.TradesPerDay = tradesPerDay(trades)
	return s
}

// MaxDrawdown is the largest peak-to-trough decline of values as a
// fraction of the running peak.
func MaxDrawdown(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0]
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Sharpe annualizes the mean excess per-period return of values over its
// population standard deviation. It is zero when the returns do not vary.
func Sharpe(values []float64, riskFree float64, periods int) float64 {
	var returns []float64
	for i := 1; i < len(values); i++ {
		if values[i-1] > 0 {
			returns = append(returns, (values[i]-values[i-1])/values[i-1])
		}
	}
	if len(returns) == 0 {
		return 0
	}

	m := mean(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}

	p := float64(periods)
	return (m - riskFree/p) / std * math.Sqrt(p)
}

type closeOutcome struct {
	matched  bool
	rate     float64
	holdDays float64
}

// closeOutcomes pairs every closing trade with the opening trade it links
// to and computes the price return of the round trip.
func closeOutcomes(trades []journal.TradeRecord) []closeOutcome {
	byID := journal.Index(trades)
	var out []closeOutcome
	for _, t := range trades {
		if !t.Action.Closes() {
			continue
		}
		open, ok := byID[t.OpenID]
		if t.OpenID == "" || !ok || !open.Price.IsPositive() {
			out = append(out, closeOutcome{})
			continue
		}

		diff := t.Price.Sub(open.Price)
		if open.Side == ledger.Short {
			diff = diff.Neg()
		}
		rate := diff.DivRound(open.Price, 16).InexactFloat64()
		out = append(out, closeOutcome{
			matched:  true,
			rate:     rate,
			holdDays: math.Floor(t.Timestamp.Sub(open.Timestamp).Hours() / 24),
		})
	}
	return out
}

func tradesPerDay(trades []journal.TradeRecord) float64 {
	if len(trades) < 2 {
		return 0
	}
	first, last := trades[0].Timestamp, trades[0].Timestamp
	for _, t := range trades[1:] {
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}
	days := int(last.Sub(first)/(24*time.Hour)) + 1
	return float64(len(trades)) / float64(days)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
