// Package backtest drives tasks through their decision timestamps: it asks
// the oracle, executes through the ledger, checkpoints every step and
// computes statistics when a run completes.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rustyeddy/tradesim/executor"
	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/internal/logging"
	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/oracle"
	"github.com/rustyeddy/tradesim/sizer"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
)

const (
	DefaultMaxAttempts = 3
	DefaultRecentBars  = 20
)

// RunnerOptions controls how the runner behaves.
type RunnerOptions struct {
	// MaxAttempts is how many times the oracle is asked per timestamp
	// before the timestamp is skipped.
	MaxAttempts int
	// RetryDelay is the pause between failed oracle attempts.
	RetryDelay time.Duration
	// RecentBars is how many bars of history the oracle sees.
	RecentBars int
	// Indicators selects the summary handed to the oracle. The zero value
	// means indicators.DefaultPeriods.
	Indicators indicators.Periods
	Stats      stats.Options
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RecentBars < 0 {
		o.RecentBars = 0
	} else if o.RecentBars == 0 {
		o.RecentBars = DefaultRecentBars
	}
	if o.Indicators == (indicators.Periods{}) {
		o.Indicators = indicators.DefaultPeriods()
	}
	if o.Stats.PeriodsPerYear <= 0 {
		o.Stats = stats.DefaultOptions()
	}
	return o
}

// Runner executes one task at a time. It never writes the task status
// except through compare-and-swap transitions, so a concurrent pause or
// cancel always wins.
type Runner struct {
	Store   store.Store
	Market  market.Provider
	Oracle  oracle.Oracle
	Trends  market.TrendSource // optional previous-day trend labels
	Options RunnerOptions
	Metrics *Metrics
	Logger  *log.Logger
}

func (r *Runner) validate() error {
	if r.Store == nil {
		return fmt.Errorf("backtest: Store is required")
	}
	if r.Market == nil {
		return fmt.Errorf("backtest: Market is required")
	}
	if r.Oracle == nil {
		return fmt.Errorf("backtest: Oracle is required")
	}
	return nil
}

// run is the per-task state carried through the loop.
type run struct {
	*Runner
	opts    RunnerOptions
	log     *log.Logger
	task    *task.Task
	acct    *ledger.Account
	series  *market.Series
	trends  market.Trends
	times   []time.Time
	history []journal.TradeRecord
	nextSeq int64
}

func (r *run) logf(level logging.Level, format string, args ...any) {
	logging.Logf(r.log, level, format, args...)
}

// Run processes taskID, which the caller has already moved to RUNNING.
// With fresh set the task's journal and account are reset first;
// otherwise iteration continues from the last checkpoint.
//
// Run returns nil when the task completes or when it stops because it
// was paused or cancelled. Context cancellation returns the context error
// and leaves the status alone. Any other failure marks the task FAILED.
func (r *Runner) Run(ctx context.Context, taskID string, fresh bool) error {
	if err := r.validate(); err != nil {
		return err
	}

	base := r.Logger
	if base == nil {
		base = log.Default()
	}
	rn := &run{
		Runner: r,
		opts:   r.Options.withDefaults(),
		log:    log.New(base.Writer(), base.Prefix()+"["+taskID+"] ", base.Flags()),
	}
	if lb, ok := r.Oracle.(interface{ Lookback() int }); ok && lb.Lookback() > rn.opts.RecentBars {
		rn.opts.RecentBars = lb.Lookback()
	}

	err := rn.execute(ctx, taskID, fresh)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		rn.logf(logging.LevelInfo, "stopped: %v", err)
		return err
	case errors.Is(err, store.ErrNotFound):
		return err
	}

	rn.logf(logging.LevelError, "run failed: %v", err)
	if _, terr := r.Store.TransitionTask(context.WithoutCancel(ctx), taskID,
		[]task.Status{task.Running, task.Paused}, task.Failed, err.Error()); terr != nil {
		rn.logf(logging.LevelWarn, "could not mark task failed: %v", terr)
		return errors.Join(err, terr)
	}
	r.Metrics.finished(string(task.Failed))
	return err
}

func (r *run) execute(ctx context.Context, taskID string, fresh bool) error {
	t, err := r.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != task.Running {
		r.logf(logging.LevelInfo, "task is %s, nothing to do", t.Status)
		return nil
	}
	r.task = t

	r.acct, err = r.Store.GetAccount(ctx, t.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	if err := r.loadBars(ctx); err != nil {
		return err
	}

	if fresh {
		if err := r.reset(ctx); err != nil {
			return err
		}
	} else {
		if t.TotalItems != len(r.times) {
			r.logf(logging.LevelWarn, "market data changed: %d timestamps, task expected %d", len(r.times), t.TotalItems)
		}
		r.history, err = r.Store.ListTrades(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("load trades: %w", err)
		}
		r.nextSeq = 1
		if n := len(r.history); n > 0 {
			r.nextSeq = r.history[n-1].Seq + 1
		}
		r.logf(logging.LevelInfo, "resuming at %d/%d", t.ProcessedItems, len(r.times))
	}

	for i := r.task.ProcessedItems; i < len(r.times); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur, err := r.Store.GetTask(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		if cur.Status != task.Running {
			r.logf(logging.LevelInfo, "task is %s at %d/%d, stopping", cur.Status, i, len(r.times))
			return nil
		}

		if err := r.step(ctx, i); err != nil {
			return err
		}
	}

	return r.finalize(ctx)
}

// loadBars fetches the task's bars and derives the decision timestamps.
func (r *run) loadBars(ctx context.Context) error {
	t := r.task
	bars, err := r.Market.Bars(ctx, t.Symbol, t.Granularity, t.StartDate, t.Granularity.EndOfRange(t.EndDate))
	if errors.Is(err, market.ErrNoData) {
		r.logf(logging.LevelWarn, "no market data for %s %s", t.Symbol, t.Granularity)
		bars, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}
	r.series = market.NewSeries(bars)
	r.times = market.DecisionTimes(bars, t.Granularity, t.DecisionInterval)

	if r.Trends != nil {
		r.trends, err = r.Trends.Trends(t.Symbol)
		if errors.Is(err, market.ErrNoData) {
			r.logf(logging.LevelWarn, "no trend data for %s", t.Symbol)
			err = nil
		}
		if err != nil {
			return fmt.Errorf("load trends: %w", err)
		}
	}
	return nil
}

// reset restores the account, wipes the journal and writes the bootstrap
// snapshot in one store call.
func (r *run) reset(ctx context.Context) error {
	t := r.task
	r.acct.Reset()

	price, ok := r.series.PriceAt(t.Granularity.Truncate(t.StartDate))
	if !ok && r.series.Len() > 0 {
		price = r.series.Bars()[0].Close
	}
	r.acct.Mark(price, t.StartDate)

	err := r.Store.ResetTask(ctx, store.Reset{
		TaskID:     t.ID,
		Account:    r.acct,
		TotalItems: len(r.times),
		Snapshot:   journal.NewSnapshot(t.ID, r.acct, t.StartDate),
	})
	if errors.Is(err, store.ErrConflict) {
		// Cancelled before the reset landed; the status poll stops the run.
		r.logf(logging.LevelInfo, "reset skipped: %v", err)
	} else if err != nil {
		return fmt.Errorf("reset task: %w", err)
	}

	t.ProcessedItems = 0
	t.TotalItems = len(r.times)
	r.history = nil
	r.nextSeq = 1
	r.logf(logging.LevelInfo, "starting %s %s: %d decision points from %s to %s",
		t.Symbol, t.Granularity, len(r.times), t.StartDate.Format(time.RFC3339), t.EndDate.Format(time.RFC3339))
	return nil
}

// step handles decision timestamp i and commits its outcome.
func (r *run) step(ctx context.Context, i int) error {
	start := time.Now()
	defer r.Metrics.step(start)

	t := r.task
	at := r.times[i]
	processed := i + 1

	price, ok := r.series.PriceAt(at)
	if !ok || !price.IsPositive() {
		r.logf(logging.LevelWarn, "no price at %s, skipping", at.Format(time.RFC3339))
		r.Metrics.decision(OutcomeNoPrice)
		return r.commit(ctx, store.Step{TaskID: t.ID, Processed: processed})
	}

	r.acct.Mark(price, at)

	rec := journal.NewDecisionRecord(t.ID, r.acct, at, price)
	d, err := r.decide(ctx, &rec)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logf(logging.LevelWarn, "skipping %s: %v", at.Format(time.RFC3339), err)
		rec.Outcome = OutcomeSkipped
		rec.Error = err.Error()
		r.Metrics.decision(OutcomeSkipped)
		return r.commit(ctx, store.Step{TaskID: t.ID, Processed: processed, Decision: &rec})
	}

	res, err := executor.Execute(executor.Request{
		TaskID:   t.ID,
		Account:  r.acct,
		Intent:   d.Action,
		Quantity: d.Quantity,
		Price:    price,
		At:       at,
		History:  r.history,
		NextSeq:  r.nextSeq,
	})
	outcome := OutcomeExecuted
	switch {
	case err != nil && ledger.IsRejection(err):
		r.logf(logging.LevelWarn, "%s %s @ %s rejected at %s: %v", d.Action, d.Quantity, price, at.Format(time.RFC3339), err)
		res = executor.MarkToMarket(t.ID, r.acct, price, at)
		outcome = OutcomeRejected
		rec.Error = err.Error()
	case err != nil:
		return fmt.Errorf("execute at %s: %w", at.Format(time.RFC3339), err)
	case len(res.Trades) == 0:
		outcome = OutcomeHold
	}
	rec.Outcome = outcome
	for i := range res.Trades {
		res.Trades[i].DecisionID = rec.ID
	}

	if err := r.commit(ctx, store.Step{
		TaskID:    t.ID,
		Processed: processed,
		Account:   res.Account,
		Trades:    res.Trades,
		Snapshot:  &res.Snapshot,
		Decision:  &rec,
	}); err != nil {
		return err
	}

	r.acct = res.Account
	r.history = append(r.history, res.Trades...)
	r.nextSeq += int64(len(res.Trades))
	r.Metrics.decision(outcome)
	for _, tr := range res.Trades {
		r.Metrics.trade(string(tr.Action))
		r.logf(logging.LevelDebug, "%s %s @ %s cash=%s qty=%s", tr.Action, tr.Quantity, tr.Price, tr.Cash, tr.Position)
	}
	return nil
}

func (r *run) commit(ctx context.Context, s store.Step) error {
	if err := r.Store.CommitStep(ctx, s); err != nil {
		return fmt.Errorf("commit step %d: %w", s.Processed, err)
	}
	r.task.ProcessedItems = s.Processed
	return nil
}

// decide asks the oracle up to MaxAttempts times. An error, a nil
// decision and a malformed decision all count as a failed attempt. The
// attempts, the time spent and the accepted answer are written to rec.
func (r *run) decide(ctx context.Context, rec *journal.DecisionRecord) (*oracle.Decision, error) {
	at, price := rec.Timestamp, rec.Price
	in := oracle.Context{
		TaskID:       r.task.ID,
		Symbol:       r.task.Symbol,
		Timestamp:    at,
		Price:        price,
		Granularity:  r.task.Granularity,
		Account:      *r.acct.Clone(),
		Limits:       sizer.New(r.acct, price).Limits(),
		RecentBars:   r.series.Recent(at, r.opts.RecentBars),
		Indicators:   indicators.Summarize(r.series.Recent(at, r.opts.Indicators.Lookback()), r.opts.Indicators),
		LastDayTrend: r.trends.PreviousDay(at),
	}
	rec.LastDayTrend = in.LastDayTrend

	start := time.Now()
	defer func() { rec.ElapsedMS = time.Since(start).Milliseconds() }()

	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		rec.Attempts = attempt
		d, err := r.Oracle.Decide(ctx, in)
		if err == nil {
			err = oracle.Validate(d)
		}
		r.Metrics.oracleAttempt(err != nil)
		if err == nil {
			rec.Action = d.Action
			rec.Quantity = d.Quantity
			rec.Confidence = d.Confidence
			rec.Reasoning = d.Reasoning
			return d, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		r.logf(logging.LevelWarn, "oracle attempt %d/%d at %s: %v", attempt, r.opts.MaxAttempts, at.Format(time.RFC3339), err)

		if r.opts.RetryDelay > 0 && attempt < r.opts.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("oracle failed after %d attempts: %w", r.opts.MaxAttempts, lastErr)
}

// finalize writes the closing snapshot, computes statistics and completes
// the task.
func (r *run) finalize(ctx context.Context) error {
	t := r.task

	r.acct.Mark(r.acct.LastPrice, t.EndDate)
	snap := journal.NewSnapshot(t.ID, r.acct, t.EndDate)
	if err := r.commit(ctx, store.Step{
		TaskID:    t.ID,
		Processed: len(r.times),
		Account:   r.acct,
		Snapshot:  &snap,
	}); err != nil {
		return err
	}

	trades, err := r.Store.ListTrades(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	snaps, err := r.Store.ListSnapshots(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	st := stats.Compute(trades, snaps, r.acct.InitialBalance, r.opts.Stats)
	if err := r.Store.SaveStats(ctx, t.ID, st); err != nil {
		return fmt.Errorf("save stats: %w", err)
	}

	_, err = r.Store.TransitionTask(ctx, t.ID, []task.Status{task.Running}, task.Completed, "")
	if errors.Is(err, store.ErrConflict) {
		r.logf(logging.LevelInfo, "not completing: %v", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	r.Metrics.finished(string(task.Completed))
	r.logf(logging.LevelInfo, "completed: %d trades, total value %s, return %.4f%%",
		len(trades), snap.TotalValue, st.CumulativeReturn*100)
	return nil
}
