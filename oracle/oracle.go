// Package oracle defines the decision source consulted by the backtest
// runner at every decision timestamp, plus a few implementations.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/sizer"
	"github.com/shopspring/decimal"
)

// ErrInvalidDecision marks a decision that cannot be acted on. The runner
// retries the oracle when it sees one.
var ErrInvalidDecision = errors.New("oracle: invalid decision")

// Decision is a proposed trading intent. Decisions are untrusted input.
type Decision struct {
	Action     ledger.Action   `json:"action" yaml:"action"`
	Quantity   decimal.Decimal `json:"quantity" yaml:"quantity"`
	Confidence float64         `json:"confidence" yaml:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
}

// HoldDecision is the neutral decision.
func HoldDecision(reason string) *Decision {
	return &Decision{Action: ledger.Hold, Quantity: decimal.Zero, Reasoning: reason}
}

// Context is everything an oracle sees at one decision timestamp.
type Context struct {
	TaskID      string             `json:"task_id"`
	Symbol      string             `json:"symbol"`
	Timestamp   time.Time          `json:"timestamp"`
	Price       decimal.Decimal    `json:"price"`
	Granularity market.Granularity `json:"granularity"`
	Account     ledger.Account     `json:"account"`
	Limits      sizer.Limits       `json:"limits"`
	RecentBars  []market.Bar       `json:"recent_bars,omitempty"`

	// Indicators summarizes the bars up to Timestamp.
	Indicators indicators.Summary `json:"indicators"`

	// LastDayTrend is the trend label of the previous calendar day, empty
	// when no trend data covers it.
	LastDayTrend string `json:"lastday_trend,omitempty"`
}

type Oracle interface {
	Decide(ctx context.Context, in Context) (*Decision, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, in Context) (*Decision, error)

func (f Func) Decide(ctx context.Context, in Context) (*Decision, error) { return f(ctx, in) }

// Hold returns an oracle that never trades.
func Hold() Oracle {
	return Func(func(context.Context, Context) (*Decision, error) {
		return HoldDecision("hold"), nil
	})
}

// Validate checks the shape of a decision: a known action, a non-negative
// quantity and a confidence within [0, 1].
func Validate(d *Decision) error {
	if d == nil {
		return fmt.Errorf("%w: nil decision", ErrInvalidDecision)
	}
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
	if d.Quantity.IsNegative() {
		return fmt.Errorf("%w: negative quantity %s", ErrInvalidDecision, d.Quantity)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidDecision, d.Confidence)
	}
	return nil
}
