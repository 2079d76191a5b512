// Package store defines the persistence contract for accounts, tasks and
// their journals. Implementations live in the memory, sqlite and postgres
// subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/task"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap lost: the stored
	// state was not one the caller expected.
	ErrConflict = errors.New("conflict")

	// ErrDuplicateKey is returned when inserting a record whose key
	// already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a write is missing required fields.
	ErrInvalidInput = errors.New("invalid input")
)

// Step is the unit of work committed after one decision timestamp. A nil
// Account and Snapshot make it a checkpoint: only Processed moves.
// Decision, when set, is stored alongside; writing a decision for a
// timestamp that already has one replaces it.
type Step struct {
	TaskID    string
	Processed int
	Account   *ledger.Account
	Trades    []journal.TradeRecord
	Snapshot  *journal.Snapshot
	Decision  *journal.DecisionRecord
}

// Reset wipes a task's journal and restores its account ahead of a fresh
// run. It is applied only while the task is RUNNING or PAUSED, so a pause
// that lands before the reset does not leave a stale journal behind.
type Reset struct {
	TaskID     string
	Account    *ledger.Account
	TotalItems int
	Snapshot   journal.Snapshot
}

// Store persists everything a backtest needs to survive a restart.
type Store interface {
	CreateAccount(ctx context.Context, a *ledger.Account) error
	GetAccount(ctx context.Context, id string) (*ledger.Account, error)

	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)

	// TransitionTask moves a task to status `to` only if its current
	// status is one of `from`. errMsg is recorded when moving to FAILED.
	// It returns the updated task, or ErrConflict when the status did not
	// match.
	TransitionTask(ctx context.Context, id string, from []task.Status, to task.Status, errMsg string) (*task.Task, error)

	ResetTask(ctx context.Context, r Reset) error
	CommitStep(ctx context.Context, s Step) error
	SaveStats(ctx context.Context, taskID string, s stats.Stats) error

	// ListTrades returns trades in execution order.
	ListTrades(ctx context.Context, taskID string) ([]journal.TradeRecord, error)
	// ListSnapshots returns snapshots ordered by timestamp.
	ListSnapshots(ctx context.Context, taskID string) ([]journal.Snapshot, error)
	// ListDecisions returns decision records ordered by timestamp.
	ListDecisions(ctx context.Context, taskID string) ([]journal.DecisionRecord, error)

	Close() error
}

// Transition applies the status change to t in memory, stamping the
// lifecycle timestamps. It is shared by the implementations so they agree
// on what a transition writes.
func Transition(t *task.Task, from []task.Status, to task.Status, errMsg string, now time.Time) error {
	if !slices.Contains(from, t.Status) {
		return fmt.Errorf("%w: task %s is %s, want one of %v", ErrConflict, t.ID, t.Status, from)
	}
	if !task.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", task.ErrInvalidTransition, t.Status, to)
	}

	now = now.UTC()
	switch to {
	case task.Running:
		if t.Status == task.Paused {
			t.ResumedAt = now
		} else {
			t.StartedAt = now
			t.CompletedAt = time.Time{}
		}
		t.ErrorMessage = ""
	case task.Completed, task.Cancelled:
		t.CompletedAt = now
	case task.Failed:
		t.ErrorMessage = errMsg
		t.CompletedAt = now
	}
	t.Status = to
	return nil
}

// ValidateStep checks the fields every implementation relies on.
func ValidateStep(s Step) error {
	if s.TaskID == "" {
		return fmt.Errorf("%w: step task id is required", ErrInvalidInput)
	}
	if s.Processed < 0 {
		return fmt.Errorf("%w: processed must be >= 0, got %d", ErrInvalidInput, s.Processed)
	}
	for _, tr := range s.Trades {
		if tr.ID == "" {
			return fmt.Errorf("%w: trade id is required", ErrInvalidInput)
		}
	}
	if len(s.Trades) > 0 && s.Account == nil {
		return fmt.Errorf("%w: trades without an account", ErrInvalidInput)
	}
	if d := s.Decision; d != nil {
		if d.ID == "" {
			return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
		}
		if d.TaskID != s.TaskID {
			return fmt.Errorf("%w: decision for task %s in step of %s", ErrInvalidInput, d.TaskID, s.TaskID)
		}
	}
	return nil
}
