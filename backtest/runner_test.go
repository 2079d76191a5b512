package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/oracle"
	"github.com/rustyeddy/tradesim/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name string
		r    *Runner
		want string
	}{
		{"missing store", &Runner{Market: dailyBars("1"), Oracle: oracle.Hold()}, "backtest: Store is required"},
		{"missing market", &Runner{Store: &flakyStore{}, Oracle: oracle.Hold()}, "backtest: Market is required"},
		{"missing oracle", &Runner{Store: &flakyStore{}, Market: dailyBars("1")}, "backtest: Oracle is required"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.r.Run(ctx, "x", true)
			assert.EqualError(t, err, tc.want)
		})
	}
}

func TestRunnerSampleScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	script := oracle.NewScript([]oracle.ScriptEntry{
		{At: day(0), Decision: *decision(ledger.Buy, "1")},
		{At: day(1), Decision: *decision(ledger.Sell, "1")},
	})
	fees := ledger.FeeSchedule{CommissionBuy: D("0.001"), CommissionSell: D("0.001")}
	f := newFixture(t, dailyBars("50000", "55000", "55000"), script, "100000", fees)
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))

	tk := f.task(t)
	assert.Equal(t, task.Completed, tk.Status)
	assert.Equal(t, 3, tk.ProcessedItems)
	assert.Equal(t, 3, tk.TotalItems)
	assert.False(t, tk.CompletedAt.IsZero())
	require.NotNil(t, tk.Stats)
	assert.InDelta(t, 0.04895, tk.Stats.CumulativeReturn, 1e-12)
	assert.Equal(t, 2, tk.Stats.TotalTrades)
	assert.Equal(t, 1, tk.Stats.Wins)

	a := f.account(t)
	assert.True(t, D("104895").Equal(a.Cash), a.Cash.String())
	assert.True(t, a.IsFlat())
	assert.True(t, D("104895").Equal(a.TotalValue))

	trades, err := f.store.ListTrades(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.Buy, trades[0].Action)
	assert.True(t, D("50").Equal(trades[0].TotalFees))
	assert.True(t, D("49950").Equal(trades[0].Cash))
	assert.Equal(t, trades[0].ID, trades[1].OpenID)
	assert.Equal(t, int64(2), trades[1].Seq)

	decs, err := f.store.ListDecisions(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, decs, 3)
	assert.Equal(t, []string{OutcomeExecuted, OutcomeExecuted, OutcomeHold},
		[]string{decs[0].Outcome, decs[1].Outcome, decs[2].Outcome})
	assert.Equal(t, decs[0].ID, trades[0].DecisionID)
	assert.Equal(t, decs[1].ID, trades[1].DecisionID)
	assert.Equal(t, ledger.Sell, decs[1].Action)
	assert.True(t, D("55000").Equal(decs[1].Price))
	assert.Equal(t, 1, decs[0].Attempts)

	// Bootstrap at StartDate and the final one at EndDate share
	// timestamps with decision points and are refreshed in place.
	snaps, err := f.store.ListSnapshots(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.True(t, day(0).Equal(snaps[0].Timestamp))
	assert.True(t, D("104895").Equal(snaps[2].TotalValue))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(OutcomeExecuted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(OutcomeHold)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Trades.WithLabelValues(string(ledger.Sell))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TasksFinished.WithLabelValues(string(task.Completed))))
}

// alternating buys 1 on even days and sells 1 on odd days.
func alternating(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
	if dayIndex(in.Timestamp)%2 == 0 {
		return decision(ledger.Buy, "1"), nil
	}
	return decision(ledger.Sell, "1"), nil
}

func TestRunnerPauseResumeMatchesUninterrupted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prices := []string{"100", "104", "99", "107", "110", "101", "98", "120", "115", "118"}

	straight := newFixture(t, dailyBars(prices...), oracle.Func(alternating), "10000", ledger.DefaultFees())
	straight.start(t)
	require.NoError(t, straight.runner.Run(ctx, straight.taskID, true))

	paused := newFixture(t, dailyBars(prices...), nil, "10000", ledger.DefaultFees())
	calls := 0
	paused.runner.Oracle = oracle.Func(func(ctx context.Context, in oracle.Context) (*oracle.Decision, error) {
		calls++
		if calls == 4 {
			_, err := paused.store.TransitionTask(ctx, in.TaskID, []task.Status{task.Running}, task.Paused, "")
			require.NoError(t, err)
		}
		return alternating(ctx, in)
	})
	paused.start(t)

	require.NoError(t, paused.runner.Run(ctx, paused.taskID, true))
	mid := paused.task(t)
	assert.Equal(t, task.Paused, mid.Status)
	assert.Equal(t, 4, mid.ProcessedItems)
	assert.Nil(t, mid.Stats)

	_, err := paused.store.TransitionTask(ctx, paused.taskID, []task.Status{task.Paused}, task.Running, "")
	require.NoError(t, err)
	require.NoError(t, paused.runner.Run(ctx, paused.taskID, false))

	want, got := straight.account(t), paused.account(t)
	assert.Equal(t, task.Completed, paused.task(t).Status)
	assert.Equal(t, want.Cash.String(), got.Cash.String())
	assert.Equal(t, want.Quantity.String(), got.Quantity.String())
	assert.Equal(t, want.CumulativeFees.String(), got.CumulativeFees.String())

	wantTrades, err := straight.store.ListTrades(ctx, straight.taskID)
	require.NoError(t, err)
	gotTrades, err := paused.store.ListTrades(ctx, paused.taskID)
	require.NoError(t, err)
	require.Equal(t, len(wantTrades), len(gotTrades))
	for i := range wantTrades {
		assert.Equal(t, wantTrades[i].Seq, gotTrades[i].Seq)
		assert.Equal(t, wantTrades[i].Action, gotTrades[i].Action)
		assert.Equal(t, wantTrades[i].Cash.String(), gotTrades[i].Cash.String())
		assert.Equal(t, wantTrades[i].OpenID == "", gotTrades[i].OpenID == "")
	}

	assert.Equal(t, straight.task(t).Stats.CumulativeReturn, paused.task(t).Stats.CumulativeReturn)
}

func TestRunnerOracleFailuresSkipTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	attempts := map[int]int{}
	o := oracle.Func(func(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
		i := dayIndex(in.Timestamp)
		attempts[i]++
		switch i {
		case 0:
			return decision(ledger.Buy, "1"), nil
		case 1:
			return nil, errors.New("model timeout")
		}
		return oracle.HoldDecision("flat"), nil
	})
	f := newFixture(t, dailyBars("100", "110", "120"), o, "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))

	assert.Equal(t, 1, attempts[0])
	assert.Equal(t, DefaultMaxAttempts, attempts[1])
	assert.Equal(t, task.Completed, f.task(t).Status)

	trades, err := f.store.ListTrades(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	// Day 1 left no snapshot of its own.
	snaps, err := f.store.ListSnapshots(ctx, f.taskID)
	require.NoError(t, err)
	for _, sn := range snaps {
		assert.False(t, day(1).Equal(sn.Timestamp))
	}

	decs, err := f.store.ListDecisions(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, decs, 3)
	assert.Equal(t, OutcomeSkipped, decs[1].Outcome)
	assert.Equal(t, DefaultMaxAttempts, decs[1].Attempts)
	assert.Contains(t, decs[1].Error, "model timeout")
	assert.Empty(t, decs[1].Action)
	assert.Equal(t, OutcomeHold, decs[2].Outcome)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.OracleFailures))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.OracleAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(OutcomeSkipped)))
}

func TestRunnerRetriesInvalidDecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	calls := 0
	o := oracle.Func(func(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
		calls++
		switch calls {
		case 1:
			return nil, nil
		case 2:
			return &oracle.Decision{Action: "MOON", Quantity: D("1")}, nil
		}
		return decision(ledger.Buy, "2"), nil
	})
	f := newFixture(t, dailyBars("100"), o, "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	assert.Equal(t, 3, calls)
	assert.True(t, D("2").Equal(f.account(t).Quantity))
}

func TestRunnerRejectionMarksToMarket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var seen oracle.Context
	o := oracle.Func(func(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
		seen = in
		return decision(ledger.Buy, "1000"), nil
	})
	f := newFixture(t, dailyBars("100", "200"), o, "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	assert.Equal(t, task.Completed, f.task(t).Status)

	// The oracle saw a marked account and the limits at the price.
	assert.True(t, D("200").Equal(seen.Price))
	assert.True(t, D("200").Equal(seen.Account.LastPrice))
	assert.True(t, D("5").Equal(seen.Limits.MaxBuy))
	assert.Len(t, seen.RecentBars, 2)

	trades, err := f.store.ListTrades(ctx, f.taskID)
	require.NoError(t, err)
	assert.Empty(t, trades)

	snaps, err := f.store.ListSnapshots(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, D("200").Equal(snaps[1].Price))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(OutcomeRejected)))

	decs, err := f.store.ListDecisions(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.Equal(t, OutcomeRejected, decs[1].Outcome)
	assert.NotEmpty(t, decs[1].Error)
	assert.True(t, D("1000").Equal(decs[1].Quantity))
}

func TestRunnerMissingPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	called := 0
	o := oracle.Func(func(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
		called++
		return oracle.HoldDecision("wait"), nil
	})
	f := newFixture(t, dailyBars("100", "0", "102"), o, "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	assert.Equal(t, 2, called)
	assert.Equal(t, 3, f.task(t).ProcessedItems)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(OutcomeNoPrice)))

	// A timestamp without a price never reaches the oracle and records nothing.
	decs, err := f.store.ListDecisions(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.True(t, day(2).Equal(decs[1].Timestamp))
}

type staticTrends market.Trends

func (s staticTrends) Trends(string) (market.Trends, error) { return market.Trends(s), nil }

func TestRunnerPassesTrendAndIndicators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var seen []oracle.Context
	o := oracle.Func(func(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
		seen = append(seen, in)
		return oracle.HoldDecision("wait"), nil
	})
	f := newFixture(t, dailyBars("100", "110", "120"), o, "1000", ledger.NoFees())
	f.runner.Trends = staticTrends{"2024-03-01": "up", "2024-03-03": "down"}
	f.runner.Options.Indicators = indicators.Periods{MA: 2, ATR: 1}
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	require.Len(t, seen, 3)

	assert.Empty(t, seen[0].LastDayTrend)
	assert.Equal(t, "up", seen[1].LastDayTrend)
	assert.Empty(t, seen[2].LastDayTrend)

	assert.Zero(t, seen[0].Indicators.SMA)
	assert.InDelta(t, 105, seen[1].Indicators.SMA, 1e-9)
	assert.InDelta(t, 115, seen[2].Indicators.SMA, 1e-9)
	assert.InDelta(t, 10, seen[2].Indicators.ATR, 1e-9)

	decs, err := f.store.ListDecisions(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, decs, 3)
	assert.Equal(t, "up", decs[1].LastDayTrend)
	assert.Equal(t, "wait", decs[2].Reasoning)
}

type failingTrends struct{ err error }

func (f failingTrends) Trends(string) (market.Trends, error) { return nil, f.err }

func TestRunnerTrendErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	missing := newFixture(t, dailyBars("100"), oracle.Hold(), "1000", ledger.NoFees())
	missing.runner.Trends = failingTrends{market.ErrNoData}
	missing.start(t)
	require.NoError(t, missing.runner.Run(ctx, missing.taskID, true))
	assert.Equal(t, task.Completed, missing.task(t).Status)

	broken := newFixture(t, dailyBars("100"), oracle.Hold(), "1000", ledger.NoFees())
	broken.runner.Trends = failingTrends{errors.New("bad trend file")}
	broken.start(t)
	err := broken.runner.Run(ctx, broken.taskID, true)
	require.Error(t, err)
	assert.Equal(t, task.Failed, broken.task(t).Status)
	assert.Contains(t, broken.task(t).ErrorMessage, "bad trend file")
}

func TestRunnerCancelStopsWithoutFinalizing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, dailyBars("100", "101", "102"), nil, "1000", ledger.NoFees())
	f.runner.Oracle = oracle.Func(func(ctx context.Context, in oracle.Context) (*oracle.Decision, error) {
		_, err := f.store.TransitionTask(ctx, in.TaskID, []task.Status{task.Running}, task.Cancelled, "")
		require.NoError(t, err)
		return oracle.HoldDecision(""), nil
	})
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	tk := f.task(t)
	assert.Equal(t, task.Cancelled, tk.Status)
	assert.Equal(t, 1, tk.ProcessedItems)
	assert.Nil(t, tk.Stats)
}

func TestRunnerContextCancelLeavesStatus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, dailyBars("100", "101", "102"), oracle.Func(func(context.Context, oracle.Context) (*oracle.Decision, error) {
		cancel()
		return oracle.HoldDecision(""), nil
	}), "1000", ledger.NoFees())
	f.start(t)

	err := f.runner.Run(ctx, f.taskID, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, task.Running, f.task(t).Status)
}

func TestRunnerPersistenceFailureThenRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, dailyBars("100", "101", "102", "103"), oracle.Func(alternating), "1000", ledger.NoFees())
	flaky := &flakyStore{Store: f.store, failAt: 3}
	f.runner.Store = flaky
	f.start(t)

	err := f.runner.Run(ctx, f.taskID, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	tk := f.task(t)
	assert.Equal(t, task.Failed, tk.Status)
	assert.Contains(t, tk.ErrorMessage, "disk full")
	assert.Equal(t, 2, tk.ProcessedItems)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TasksFinished.WithLabelValues(string(task.Failed))))

	// Restart from FAILED resets and runs to the end.
	f.start(t)
	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	tk = f.task(t)
	assert.Equal(t, task.Completed, tk.Status)
	assert.Empty(t, tk.ErrorMessage)

	trades, err := f.store.ListTrades(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, trades, 4)
	assert.Equal(t, int64(1), trades[0].Seq)
}

func TestRunnerNoData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t, &staticProvider{}, oracle.Hold(), "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	tk := f.task(t)
	assert.Equal(t, task.Completed, tk.Status)
	assert.Equal(t, 0, tk.TotalItems)
	require.NotNil(t, tk.Stats)
	assert.Zero(t, tk.Stats.CumulativeReturn)
}

// deepOracle asks for more history than the runner's default.
type deepOracle struct{ seen []int }

func (d *deepOracle) Lookback() int { return 30 }

func (d *deepOracle) Decide(_ context.Context, in oracle.Context) (*oracle.Decision, error) {
	d.seen = append(d.seen, len(in.RecentBars))
	return oracle.HoldDecision(""), nil
}

func TestRunnerWidensHistoryForOracleLookback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	prices := make([]string, 40)
	for i := range prices {
		prices[i] = "100"
	}
	o := &deepOracle{}
	f := newFixture(t, dailyBars(prices...), o, "1000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	require.Len(t, o.seen, 40)
	assert.Equal(t, 1, o.seen[0])
	assert.Equal(t, 30, o.seen[39])
	assert.Equal(t, 30, o.seen[29])
}

func TestRunnerEMACrossOracle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Falls, then rallies: one bull cross, then a bear cross on the drop.
	prices := []string{"120", "116", "112", "108", "104", "100", "96", "92", "100", "110", "120", "130", "135", "110", "90", "80"}
	ema := oracle.EMACross{FastPeriod: 2, SlowPeriod: 4, Fraction: D("0.5")}
	f := newFixture(t, dailyBars(prices...), ema, "10000", ledger.NoFees())
	f.start(t)

	require.NoError(t, f.runner.Run(ctx, f.taskID, true))
	assert.Equal(t, task.Completed, f.task(t).Status)

	trades, err := f.store.ListTrades(ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, ledger.Buy, trades[0].Action)
	assert.Equal(t, ledger.Sell, trades[1].Action)
	assert.True(t, trades[0].Quantity.Equal(trades[1].Quantity))
	assert.True(t, f.account(t).IsFlat())
}
