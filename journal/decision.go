package journal

import (
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/shopspring/decimal"
)

// Decision outcomes, one per decision timestamp.
const (
	OutcomeExecuted = "executed"
	OutcomeHold     = "hold"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
	OutcomeNoPrice  = "no_price"
)

// DecisionRecord is what the oracle was asked and answered at one
// decision timestamp, and what became of the answer. Trades produced by
// the decision carry its ID.
type DecisionRecord struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`

	// Action and Quantity are empty when every attempt failed.
	Action     ledger.Action   `json:"action,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`

	LastDayTrend string `json:"lastday_trend,omitempty"`

	Attempts int    `json:"attempts"`
	Outcome  string `json:"outcome"`

	// Error is the last oracle error for a skipped timestamp, or the
	// executor's rejection.
	Error string `json:"error,omitempty"`

	// ElapsedMS is wall time spent in the oracle across all attempts.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// NewDecisionRecord starts a record for the decision at time at.
func NewDecisionRecord(taskID string, acct *ledger.Account, at time.Time, price decimal.Decimal) DecisionRecord {
	return DecisionRecord{
		ID:        id.At(at),
		TaskID:    taskID,
		AccountID: acct.ID,
		Symbol:    acct.Symbol,
		Timestamp: at.UTC(),
		Price:     price,
		Quantity:  decimal.Zero,
	}
}
