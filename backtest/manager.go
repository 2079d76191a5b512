package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/task"
	"github.com/shopspring/decimal"
)

var (
	ErrShutdown    = errors.New("backtest: manager is shut down")
	ErrAccountBusy = errors.New("backtest: account is in use by another task")
)

// AccountSpec describes a new account. An empty ID is generated.
type AccountSpec struct {
	ID             string
	Symbol         string
	InitialBalance decimal.Decimal
	Fees           ledger.FeeSchedule
}

type worker struct {
	done chan struct{}
	err  error
}

// Manager is the caller API: it creates accounts and tasks, moves tasks
// through their lifecycle and runs one worker goroutine per running task.
type Manager struct {
	runner *Runner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

func NewManager(r *Runner) (*Manager, error) {
	if r == nil {
		return nil, fmt.Errorf("backtest: Runner is required")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		runner:  r,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}, nil
}

func (m *Manager) store() store.Store { return m.runner.Store }

func (m *Manager) CreateAccount(ctx context.Context, spec AccountSpec) (*ledger.Account, error) {
	acctID := spec.ID
	if acctID == "" {
		acctID = id.Prefixed("acct")
	}
	if err := spec.Fees.Validate(); err != nil {
		return nil, err
	}
	a, err := ledger.NewAccount(acctID, strings.ToUpper(spec.Symbol), spec.InitialBalance, spec.Fees)
	if err != nil {
		return nil, err
	}
	if err := m.store().CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateTask validates spec and stores a PENDING task. An empty symbol
// defaults to the account's.
func (m *Manager) CreateTask(ctx context.Context, spec task.Spec) (string, error) {
	a, err := m.store().GetAccount(ctx, spec.AccountID)
	if err != nil {
		return "", err
	}
	if spec.Symbol == "" {
		spec.Symbol = a.Symbol
	}
	spec.Symbol = strings.ToUpper(spec.Symbol)
	if a.Symbol != "" && spec.Symbol != a.Symbol {
		return "", fmt.Errorf("%w: task symbol %s does not match account symbol %s",
			ledger.ErrInvalidParameter, spec.Symbol, a.Symbol)
	}
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrInvalidParameter, err)
	}

	t := task.New(id.Prefixed("task"), spec, time.Now())
	if err := m.store().CreateTask(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Start runs a PENDING task, or restarts a FAILED one from scratch.
func (m *Manager) Start(ctx context.Context, taskID string) error {
	t, err := m.store().GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := m.checkAccountFree(ctx, t); err != nil {
		return err
	}
	if err := m.waitIdle(ctx, taskID); err != nil {
		return err
	}
	return m.transitionAndLaunch(ctx, taskID, []task.Status{task.Pending, task.Failed}, true)
}

// Pause asks a running task to stop at the next timestamp boundary.
func (m *Manager) Pause(ctx context.Context, taskID string) error {
	return m.transition(ctx, taskID, []task.Status{task.Running}, task.Paused)
}

// Resume continues a PAUSED task from its checkpoint. It waits for the
// previous worker of the task to exit first.
func (m *Manager) Resume(ctx context.Context, taskID string) error {
	if err := m.waitIdle(ctx, taskID); err != nil {
		return err
	}
	return m.transitionAndLaunch(ctx, taskID, []task.Status{task.Paused}, false)
}

// Cancel stops a task for good.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	err := m.transition(ctx, taskID, []task.Status{task.Pending, task.Running, task.Paused}, task.Cancelled)
	if err == nil {
		m.runner.Metrics.finished(string(task.Cancelled))
	}
	return err
}

func (m *Manager) Progress(ctx context.Context, taskID string) (task.Progress, error) {
	t, err := m.store().GetTask(ctx, taskID)
	if err != nil {
		return task.Progress{}, err
	}
	return t.Progress(), nil
}

// Stats returns the statistics cached on the task. With recompute set,
// or when nothing is cached yet, they are computed from the journal and
// cached.
func (m *Manager) Stats(ctx context.Context, taskID string, recompute bool) (stats.Stats, error) {
	t, err := m.store().GetTask(ctx, taskID)
	if err != nil {
		return stats.Stats{}, err
	}
	if t.Stats != nil && !recompute {
		return *t.Stats, nil
	}

	a, err := m.store().GetAccount(ctx, t.AccountID)
	if err != nil {
		return stats.Stats{}, err
	}
	trades, err := m.store().ListTrades(ctx, taskID)
	if err != nil {
		return stats.Stats{}, err
	}
	snaps, err := m.store().ListSnapshots(ctx, taskID)
	if err != nil {
		return stats.Stats{}, err
	}

	st := stats.Compute(trades, snaps, a.InitialBalance, m.runner.Options.withDefaults().Stats)
	if err := m.store().SaveStats(ctx, taskID, st); err != nil {
		return stats.Stats{}, err
	}
	return st, nil
}

// Wait blocks until the task's current worker exits and returns its
// error. It returns nil at once when no worker is running.
func (m *Manager) Wait(ctx context.Context, taskID string) error {
	m.mu.Lock()
	w := m.workers[taskID]
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every worker at its next iteration boundary without
// touching task status, then waits for them or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) transition(ctx context.Context, taskID string, from []task.Status, to task.Status) error {
	_, err := m.store().TransitionTask(ctx, taskID, from, to, "")
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %s -> %s: %w", task.ErrInvalidTransition, taskID, to, err)
	}
	return err
}

func (m *Manager) transitionAndLaunch(ctx context.Context, taskID string, from []task.Status, fresh bool) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrShutdown
	}

	if err := m.transition(ctx, taskID, from, task.Running); err != nil {
		return err
	}
	m.launch(taskID, fresh)
	return nil
}

func (m *Manager) launch(taskID string, fresh bool) {
	w := &worker{done: make(chan struct{})}

	m.mu.Lock()
	m.workers[taskID] = w
	m.mu.Unlock()

	m.wg.Add(1)
	m.runner.Metrics.workers(1)
	go func() {
		defer m.wg.Done()
		defer m.runner.Metrics.workers(-1)
		defer close(w.done)
		w.err = m.runner.Run(m.ctx, taskID, fresh)
	}()
}

// waitIdle waits for the task's previous worker, if any, to exit.
func (m *Manager) waitIdle(ctx context.Context, taskID string) error {
	m.mu.Lock()
	w := m.workers[taskID]
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkAccountFree refuses to start a task whose account another live
// task is trading.
func (m *Manager) checkAccountFree(ctx context.Context, t *task.Task) error {
	all, err := m.store().ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, other := range all {
		if other.ID == t.ID || other.AccountID != t.AccountID {
			continue
		}
		if other.Status == task.Running || other.Status == task.Paused {
			return fmt.Errorf("%w: %s (task %s is %s)", ErrAccountBusy, t.AccountID, other.ID, other.Status)
		}
	}
	return nil
}
