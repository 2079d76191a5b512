// Package task models a backtest run and its lifecycle.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/stats"
)

// Status is the lifecycle state of a task.
type Status string

const (
	Pending   Status = "PENDING"
	Running   Status = "RUNNING"
	Paused    Status = "PAUSED"
	Completed Status = "COMPLETED"
	Failed    Status = "FAILED"
	Cancelled Status = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

var transitions = map[Status][]Status{
	Pending: {Running, Cancelled},
	Running: {Paused, Completed, Failed, Cancelled},
	Paused:  {Running, Cancelled, Failed},
	Failed:  {Running},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further progress will happen without an
// explicit restart.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s Status) Valid() bool {
	switch s {
	case Pending, Running, Paused, Completed, Failed, Cancelled:
		return true
	}
	return false
}

// Task is one backtest over [StartDate, EndDate] for a single account.
type Task struct {
	ID               string             `json:"id"`
	AccountID        string             `json:"account_id"`
	Symbol           string             `json:"symbol"`
	StartDate        time.Time          `json:"start_date"`
	EndDate          time.Time          `json:"end_date"`
	Granularity      market.Granularity `json:"granularity"`
	DecisionInterval int                `json:"decision_interval"`

	Status         Status       `json:"status"`
	TotalItems     int          `json:"total_items"`
	ProcessedItems int          `json:"processed_items"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Stats          *stats.Stats `json:"stats,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	ResumedAt   time.Time `json:"resumed_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Spec is what a caller supplies to create a task.
type Spec struct {
	AccountID        string
	Symbol           string
	StartDate        time.Time
	EndDate          time.Time
	Granularity      market.Granularity
	DecisionInterval int
}

func (s Spec) Validate() error {
	if s.AccountID == "" {
		return fmt.Errorf("task: account id is required")
	}
	if s.Symbol == "" {
		return fmt.Errorf("task: symbol is required")
	}
	if s.StartDate.IsZero() || s.EndDate.IsZero() {
		return fmt.Errorf("task: start and end dates are required")
	}
	if s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("task: end date %s is before start date %s",
			s.EndDate.Format(time.RFC3339), s.StartDate.Format(time.RFC3339))
	}
	if !s.Granularity.Valid() {
		return fmt.Errorf("task: unknown granularity %q", s.Granularity)
	}
	if s.DecisionInterval < 1 {
		return fmt.Errorf("task: decision interval must be >= 1, got %d", s.DecisionInterval)
	}
	return nil
}

// New builds a PENDING task from spec.
func New(id string, s Spec, now time.Time) *Task {
	return &Task{
		ID:               id,
		AccountID:        s.AccountID,
		Symbol:           s.Symbol,
		StartDate:        s.StartDate.UTC(),
		EndDate:          s.EndDate.UTC(),
		Granularity:      s.Granularity,
		DecisionInterval: s.DecisionInterval,
		Status:           Pending,
		CreatedAt:        now.UTC(),
	}
}

// Progress is the externally visible state of a run.
type Progress struct {
	TaskID         string  `json:"task_id"`
	Status         Status  `json:"status"`
	ProcessedItems int     `json:"processed_items"`
	TotalItems     int     `json:"total_items"`
	Percent        float64 `json:"percent"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

func (t *Task) Progress() Progress {
	p := Progress{
		TaskID:         t.ID,
		Status:         t.Status,
		ProcessedItems: t.ProcessedItems,
		TotalItems:     t.TotalItems,
		ErrorMessage:   t.ErrorMessage,
	}
	if t.TotalItems > 0 {
		p.Percent = float64(t.ProcessedItems) / float64(t.TotalItems) * 100
	}
	return p
}
