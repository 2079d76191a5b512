// Package storetest is a conformance suite run against every store.Store
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes the suite. Subtests do not share a store.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Accounts", testAccounts},
		{"Tasks", testTasks},
		{"Transitions", testTransitions},
		{"ResetTask", testResetTask},
		{"CommitStep", testCommitStep},
		{"CommitStepAtomic", testCommitStepAtomic},
		{"SnapshotUpsert", testSnapshotUpsert},
		{"Decisions", testDecisions},
		{"SaveStats", testSaveStats},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func newAccount(t *testing.T, id string) *ledger.Account {
	t.Helper()
	a, err := ledger.NewAccount(id, "BTCUSDT", ledger.D("100000"), ledger.DefaultFees())
	require.NoError(t, err)
	return a
}

func newTask(t *testing.T, s store.Store, id string) (*task.Task, *ledger.Account) {
	t.Helper()
	ctx := context.Background()

	a := newAccount(t, "acct-"+id)
	require.NoError(t, s.CreateAccount(ctx, a))

	tk := task.New(id, task.Spec{
		AccountID:        a.ID,
		Symbol:           a.Symbol,
		StartDate:        day0,
		EndDate:          day0.AddDate(0, 0, 9),
		Granularity:      market.Daily,
		DecisionInterval: 1,
	}, day0)
	require.NoError(t, s.CreateTask(ctx, tk))
	return tk, a
}

func startTask(t *testing.T, s store.Store, id string) {
	t.Helper()
	_, err := s.TransitionTask(context.Background(), id, []task.Status{task.Pending, task.Failed}, task.Running, "")
	require.NoError(t, err)
}

// buy applies a BUY to a and returns the trade it produced.
func buy(t *testing.T, a *ledger.Account, taskID string, qty, price string, at time.Time, seq int64) journal.TradeRecord {
	t.Helper()
	q, p := ledger.D(qty), ledger.D(price)
	fill, err := a.Apply(ledger.Buy, q, p, a.Fees.Compute(ledger.Buy, q, p), at)
	require.NoError(t, err)
	tr := journal.NewTradeRecord(taskID, a, fill, at)
	tr.Seq = seq
	return tr
}

func assertDec(t *testing.T, want, got interface{ String() string }) {
	t.Helper()
	assert.Equal(t, want.String(), got.String())
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := newAccount(t, "a1")
	_, err := a.Apply(ledger.Buy, ledger.D("1.5"), ledger.D("100"), a.Fees.Compute(ledger.Buy, ledger.D("1.5"), ledger.D("100")), day0)
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, a))

	got, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, a.Symbol, got.Symbol)
	assertDec(t, a.Cash, got.Cash)
	assertDec(t, a.Quantity, got.Quantity)
	assertDec(t, a.TotalValue, got.TotalValue)
	assertDec(t, a.CumulativeFees, got.CumulativeFees)
	assertDec(t, a.Fees.MinCommission, got.Fees.MinCommission)
	require.Len(t, got.LongLots, 1)
	assertDec(t, a.LongLots[0].Price, got.LongLots[0].Price)
	assert.True(t, a.LongLots[0].OpenedAt.Equal(got.LongLots[0].OpenedAt))
	assert.NoError(t, got.CheckInvariants())

	err = s.CreateAccount(ctx, a)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTasks(t *testing.T, s store.Store) {
	ctx := context.Background()

	tk, _ := newTask(t, s, "t1")
	newTask(t, s, "t2")

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tk.AccountID, got.AccountID)
	assert.Equal(t, task.Pending, got.Status)
	assert.Equal(t, market.Daily, got.Granularity)
	assert.True(t, tk.EndDate.Equal(got.EndDate))
	assert.True(t, got.StartedAt.IsZero())
	assert.Nil(t, got.Stats)

	list, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.CreateTask(ctx, tk), store.ErrDuplicateKey)

	orphan := *tk
	orphan.ID = "t3"
	orphan.AccountID = "nobody"
	assert.ErrorIs(t, s.CreateTask(ctx, &orphan), store.ErrNotFound)
}

func testTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	newTask(t, s, "t1")

	got, err := s.TransitionTask(ctx, "t1", []task.Status{task.Pending}, task.Running, "")
	require.NoError(t, err)
	assert.Equal(t, task.Running, got.Status)
	assert.False(t, got.StartedAt.IsZero())

	_, err = s.TransitionTask(ctx, "t1", []task.Status{task.Pending}, task.Running, "")
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.TransitionTask(ctx, "t1", []task.Status{task.Running}, task.Paused, "")
	require.NoError(t, err)

	got, err = s.TransitionTask(ctx, "t1", []task.Status{task.Paused}, task.Running, "")
	require.NoError(t, err)
	assert.False(t, got.ResumedAt.IsZero())

	got, err = s.TransitionTask(ctx, "t1", []task.Status{task.Running}, task.Failed, "disk full")
	require.NoError(t, err)
	assert.Equal(t, "disk full", got.ErrorMessage)

	stored, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.Failed, stored.Status)
	assert.Equal(t, "disk full", stored.ErrorMessage)

	// Restart clears the message.
	got, err = s.TransitionTask(ctx, "t1", []task.Status{task.Failed}, task.Running, "")
	require.NoError(t, err)
	assert.Empty(t, got.ErrorMessage)

	_, err = s.TransitionTask(ctx, "t1", []task.Status{task.Running}, task.Pending, "")
	assert.ErrorIs(t, err, task.ErrInvalidTransition)

	_, err = s.TransitionTask(ctx, "missing", []task.Status{task.Pending}, task.Running, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testResetTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, a := newTask(t, s, "t1")

	boot := journal.NewSnapshot(tk.ID, a, day0)
	r := store.Reset{TaskID: tk.ID, Account: a, TotalItems: 10, Snapshot: boot}

	// Only a running task may be reset.
	assert.ErrorIs(t, s.ResetTask(ctx, r), store.ErrConflict)

	startTask(t, s, tk.ID)
	require.NoError(t, s.ResetTask(ctx, r))

	work := a.Clone()
	tr := buy(t, work, tk.ID, "1", "100", day0.AddDate(0, 0, 1), 1)
	snap := journal.NewSnapshot(tk.ID, work, day0.AddDate(0, 0, 1))
	dec := decision(tk.ID, work, day0.AddDate(0, 0, 1), journal.OutcomeExecuted)
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 1, Account: work, Trades: []journal.TradeRecord{tr}, Snapshot: &snap, Decision: &dec}))
	require.NoError(t, s.SaveStats(ctx, tk.ID, stats.Stats{TotalTrades: 1}))

	// A second reset wipes the journal and restores the account.
	require.NoError(t, s.ResetTask(ctx, r))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ProcessedItems)
	assert.Equal(t, 10, got.TotalItems)
	assert.Nil(t, got.Stats)

	trades, err := s.ListTrades(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)

	snaps, err := s.ListSnapshots(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, day0.Equal(snaps[0].Timestamp))

	decs, err := s.ListDecisions(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, decs)

	acct, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, a.Cash, acct.Cash)
	assert.True(t, acct.IsFlat())

	// The reset trade id is free again.
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 1, Account: work, Trades: []journal.TradeRecord{tr}, Snapshot: &snap}))
}

func testCommitStep(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, a := newTask(t, s, "t1")
	startTask(t, s, tk.ID)

	work := a.Clone()
	at1 := day0.AddDate(0, 0, 1)
	t1 := buy(t, work, tk.ID, "1", "100", at1, 1)
	t2 := buy(t, work, tk.ID, "2", "110", at1, 2)
	snap := journal.NewSnapshot(tk.ID, work, at1)

	require.NoError(t, s.CommitStep(ctx, store.Step{
		TaskID: tk.ID, Processed: 1, Account: work,
		Trades: []journal.TradeRecord{t1, t2}, Snapshot: &snap,
	}))

	// Checkpoint only.
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 2}))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedItems)
	assert.Equal(t, task.Running, got.Status)

	acct, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, work.Cash, acct.Cash)
	assertDec(t, work.Quantity, acct.Quantity)
	require.Len(t, acct.LongLots, 2)

	trades, err := s.ListTrades(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, t1.ID, trades[0].ID)
	assert.Equal(t, int64(2), trades[1].Seq)
	assert.Equal(t, ledger.Buy, trades[1].Action)
	assert.Equal(t, ledger.Long, trades[1].Side)
	assertDec(t, t2.TotalFees, trades[1].TotalFees)
	assertDec(t, t2.Cash, trades[1].Cash)
	assert.True(t, at1.Equal(trades[1].Timestamp))

	snaps, err := s.ListSnapshots(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assertDec(t, snap.TotalValue, snaps[0].TotalValue)
	assertDec(t, snap.ProfitLoss, snaps[0].ProfitLoss)
	assert.Len(t, snaps[0].LongLots, 2)

	assert.ErrorIs(t, s.CommitStep(ctx, store.Step{TaskID: "missing", Processed: 1}), store.ErrNotFound)
	assert.ErrorIs(t, s.CommitStep(ctx, store.Step{Processed: 1}), store.ErrInvalidInput)
}

func testCommitStepAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, a := newTask(t, s, "t1")
	startTask(t, s, tk.ID)

	work := a.Clone()
	at1 := day0.AddDate(0, 0, 1)
	t1 := buy(t, work, tk.ID, "1", "100", at1, 1)
	snap := journal.NewSnapshot(tk.ID, work, at1)
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 1, Account: work, Trades: []journal.TradeRecord{t1}, Snapshot: &snap}))

	// Reusing a trade id fails the whole step.
	next := work.Clone()
	at2 := day0.AddDate(0, 0, 2)
	t2 := buy(t, next, tk.ID, "1", "120", at2, 2)
	t2.ID = t1.ID
	snap2 := journal.NewSnapshot(tk.ID, next, at2)
	err := s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 2, Account: next, Trades: []journal.TradeRecord{t2}, Snapshot: &snap2})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedItems)

	acct, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assertDec(t, work.Quantity, acct.Quantity)

	snaps, err := s.ListSnapshots(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func testSnapshotUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, a := newTask(t, s, "t1")
	startTask(t, s, tk.ID)

	work := a.Clone()
	at2 := day0.AddDate(0, 0, 2)
	at1 := day0.AddDate(0, 0, 1)

	work.Mark(ledger.D("100"), at2)
	s2 := journal.NewSnapshot(tk.ID, work, at2)
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 1, Account: work, Snapshot: &s2}))

	work.Mark(ledger.D("90"), at1)
	s1 := journal.NewSnapshot(tk.ID, work, at1)
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 2, Account: work, Snapshot: &s1}))

	// Same timestamp refreshes in place.
	work.Mark(ledger.D("105"), at2)
	s2b := journal.NewSnapshot(tk.ID, work, at2)
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 3, Account: work, Snapshot: &s2b}))

	snaps, err := s.ListSnapshots(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, at1.Equal(snaps[0].Timestamp))
	assert.True(t, at2.Equal(snaps[1].Timestamp))
	assertDec(t, ledger.D("105"), snaps[1].Price)
}

func decision(taskID string, a *ledger.Account, at time.Time, outcome string) journal.DecisionRecord {
	d := journal.NewDecisionRecord(taskID, a, at, ledger.D("100"))
	d.Action = ledger.Buy
	d.Quantity = ledger.D("1")
	d.Confidence = 0.8
	d.Reasoning = "trend up"
	d.Attempts = 1
	d.Outcome = outcome
	d.ElapsedMS = 12
	return d
}

func testDecisions(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, a := newTask(t, s, "t1")
	startTask(t, s, tk.ID)

	work := a.Clone()
	at1 := day0.AddDate(0, 0, 1)
	at2 := day0.AddDate(0, 0, 2)

	d2 := decision(tk.ID, work, at2, journal.OutcomeSkipped)
	d2.Action = ""
	d2.Quantity = ledger.D("0")
	d2.Attempts = 3
	d2.Error = "oracle: timeout"
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 1, Decision: &d2}))

	d1 := decision(tk.ID, work, at1, journal.OutcomeExecuted)
	d1.LastDayTrend = "up"
	tr := buy(t, work, tk.ID, "1", "100", at1, 1)
	tr.DecisionID = d1.ID
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 2, Account: work, Trades: []journal.TradeRecord{tr}, Decision: &d1}))

	decs, err := s.ListDecisions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.Equal(t, d1.ID, decs[0].ID)
	assert.True(t, at1.Equal(decs[0].Timestamp))
	assert.Equal(t, ledger.Buy, decs[0].Action)
	assertDec(t, d1.Quantity, decs[0].Quantity)
	assertDec(t, d1.Price, decs[0].Price)
	assert.InDelta(t, 0.8, decs[0].Confidence, 1e-9)
	assert.Equal(t, "trend up", decs[0].Reasoning)
	assert.Equal(t, "up", decs[0].LastDayTrend)
	assert.Equal(t, int64(12), decs[0].ElapsedMS)
	assert.Equal(t, journal.OutcomeSkipped, decs[1].Outcome)
	assert.Equal(t, 3, decs[1].Attempts)
	assert.Equal(t, "oracle: timeout", decs[1].Error)
	assert.Empty(t, decs[1].Action)

	trades, err := s.ListTrades(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, d1.ID, trades[0].DecisionID)

	// Same timestamp replaces the earlier record.
	d2b := decision(tk.ID, work, at2, journal.OutcomeHold)
	d2b.Action = ledger.Hold
	require.NoError(t, s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 3, Decision: &d2b}))
	decs, err = s.ListDecisions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, decs, 2)
	assert.Equal(t, journal.OutcomeHold, decs[1].Outcome)
	assert.Empty(t, decs[1].Error)

	other := decision("t2", work, at1, journal.OutcomeHold)
	err = s.CommitStep(ctx, store.Step{TaskID: tk.ID, Processed: 4, Decision: &other})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.ListDecisions(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSaveStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	tk, _ := newTask(t, s, "t1")

	want := stats.Stats{CumulativeReturn: 0.04895, MaxDrawdown: 0.1, WinRate: 1, TotalTrades: 2, ClosingTrades: 1}
	require.NoError(t, s.SaveStats(ctx, tk.ID, want))

	got, err := s.GetTask(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Stats)
	assert.Equal(t, want, *got.Stats)

	assert.ErrorIs(t, s.SaveStats(ctx, "missing", want), store.ErrNotFound)
}
