package backtest

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/oracle"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/store/memory"
	"github.com/rustyeddy/tradesim/task"
	"github.com/stretchr/testify/require"
)

var (
	D  = ledger.D
	t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func day(i int) time.Time { return t0.AddDate(0, 0, i) }

// staticProvider serves a fixed set of daily bars.
type staticProvider struct {
	bars []market.Bar
}

func dailyBars(closes ...string) *staticProvider {
	p := &staticProvider{}
	for i, c := range closes {
		v := D(c)
		p.bars = append(p.bars, market.Bar{Time: day(i), Open: v, High: v, Low: v, Close: v, Volume: D("1")})
	}
	return p
}

func (p *staticProvider) Bars(_ context.Context, _ string, _ market.Granularity, start, end time.Time) ([]market.Bar, error) {
	var out []market.Bar
	for _, b := range p.bars {
		if b.Time.Before(start) || b.Time.After(end) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, market.ErrNoData
	}
	return out, nil
}

// flakyStore fails CommitStep on the failAt-th call.
type flakyStore struct {
	store.Store
	failAt int
	calls  int
}

func (f *flakyStore) CommitStep(ctx context.Context, s store.Step) error {
	f.calls++
	if f.calls == f.failAt {
		return errors.New("disk full")
	}
	return f.Store.CommitStep(ctx, s)
}

type fixture struct {
	store   store.Store
	runner  *Runner
	metrics *Metrics
	acct    *ledger.Account
	taskID  string
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// newFixture builds a runner over a memory store holding one PENDING
// daily task spanning every bar of p.
func newFixture(t *testing.T, p *staticProvider, o oracle.Oracle, balance string, fees ledger.FeeSchedule) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	a, err := ledger.NewAccount("acct", "BTCUSDT", D(balance), fees)
	require.NoError(t, err)
	require.NoError(t, st.CreateAccount(ctx, a))

	end := t0
	if n := len(p.bars); n > 0 {
		end = p.bars[n-1].Time
	}
	tk := task.New("task", task.Spec{
		AccountID:        a.ID,
		Symbol:           a.Symbol,
		StartDate:        t0,
		EndDate:          end,
		Granularity:      market.Daily,
		DecisionInterval: 1,
	}, t0)
	require.NoError(t, st.CreateTask(ctx, tk))

	m := NewMetrics(prometheus.NewRegistry(), "test")
	return &fixture{
		store:   st,
		metrics: m,
		acct:    a,
		taskID:  tk.ID,
		runner: &Runner{
			Store:   st,
			Market:  p,
			Oracle:  o,
			Metrics: m,
			Logger:  quietLogger(),
		},
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	_, err := f.store.TransitionTask(context.Background(), f.taskID, []task.Status{task.Pending, task.Failed}, task.Running, "")
	require.NoError(t, err)
}

func (f *fixture) task(t *testing.T) *task.Task {
	t.Helper()
	tk, err := f.store.GetTask(context.Background(), f.taskID)
	require.NoError(t, err)
	return tk
}

func (f *fixture) account(t *testing.T) *ledger.Account {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), f.acct.ID)
	require.NoError(t, err)
	return a
}

// dayIndex maps a decision time back to its bar index.
func dayIndex(at time.Time) int {
	return int(at.Sub(t0) / (24 * time.Hour))
}

func decision(act ledger.Action, qty string) *oracle.Decision {
	return &oracle.Decision{Action: act, Quantity: D(qty), Confidence: 1}
}
