// Package executor turns a validated trading intent into ledger
// operations, trades and a snapshot, all or nothing.
package executor

import (
	"fmt"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/sizer"
	"github.com/shopspring/decimal"
)

// Leg is one concrete ledger operation derived from an intent.
type Leg struct {
	Action   ledger.Action
	Quantity decimal.Decimal
	// Remainder marks the second half of a flip (sell-then-short or
	// cover-then-buy).
	Remainder bool
}

// Request describes one decision to execute.
type Request struct {
	TaskID   string
	Account  *ledger.Account
	Intent   ledger.Action
	Quantity decimal.Decimal
	Price    decimal.Decimal
	At       time.Time

	// History is the task's trades so far, in execution order, used to
	// link closes to their opening trade.
	History []journal.TradeRecord
	// NextSeq numbers the trades this request produces.
	NextSeq int64
}

// Result is the outcome of a successful execution. Account is a new value;
// the request's account is never modified.
type Result struct {
	Account  *ledger.Account
	Legs     []Leg
	Fills    []ledger.Fill
	Trades   []journal.TradeRecord
	Snapshot journal.Snapshot
}

// Validate checks an intent against the account at price. HOLD is always
// valid. Other intents need a positive price and quantity no larger than
// the flip-aware limit for the intent.
func Validate(acct *ledger.Account, intent ledger.Action, qty, price decimal.Decimal) error {
	if !intent.Valid() {
		return fmt.Errorf("%w: unknown action %q", ledger.ErrInvalidParameter, intent)
	}
	if intent == ledger.Hold {
		return nil
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be > 0, got %s", ledger.ErrInvalidParameter, price)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be > 0, got %s", ledger.ErrInvalidParameter, qty)
	}

	max := sizer.New(acct, price).MaxForIntent(intent)
	if qty.GreaterThan(max) {
		return fmt.Errorf("%w: %s %s exceeds max %s", ledger.ErrSizeExceeded, intent, qty, max)
	}
	return nil
}

// Translate maps an intent onto concrete legs given the current position.
//
//	flat:  BUY -> BUY, SHORT_SELL -> SHORT_SELL, SELL/COVER_SHORT -> HOLD
//	long:  BUY/COVER_SHORT -> BUY
//	       SELL/SHORT_SELL -> SELL up to the long, SHORT_SELL the rest
//	short: BUY/COVER_SHORT -> COVER_SHORT up to the short, BUY the rest
//	       SELL/SHORT_SELL -> SHORT_SELL
func Translate(position decimal.Decimal, intent ledger.Action, qty decimal.Decimal) []Leg {
	if intent == ledger.Hold || !qty.IsPositive() {
		return []Leg{{Action: ledger.Hold, Quantity: decimal.Zero}}
	}

	buySide := intent == ledger.Buy || intent == ledger.CoverShort

	switch {
	case position.IsZero():
		switch intent {
		case ledger.Buy:
			return []Leg{{Action: ledger.Buy, Quantity: qty}}
		case ledger.ShortSell:
			return []Leg{{Action: ledger.ShortSell, Quantity: qty}}
		}
		return []Leg{{Action: ledger.Hold, Quantity: decimal.Zero}}

	case position.IsPositive():
		if buySide {
			return []Leg{{Action: ledger.Buy, Quantity: qty}}
		}
		return split(ledger.Sell, ledger.ShortSell, position, qty)

	default:
		if !buySide {
			return []Leg{{Action: ledger.ShortSell, Quantity: qty}}
		}
		return split(ledger.CoverShort, ledger.Buy, position.Abs(), qty)
	}
}

func split(closing, opening ledger.Action, held, qty decimal.Decimal) []Leg {
	legs := []Leg{{Action: closing, Quantity: ledger.Min(qty, held)}}
	if qty.GreaterThan(held) {
		legs = append(legs, Leg{Action: opening, Quantity: qty.Sub(held), Remainder: true})
	}
	return legs
}

// Execute validates, translates and applies the request on a copy of the
// account. On any error the caller's account is untouched and nothing in
// the result should be persisted.
func Execute(req Request) (*Result, error) {
	if req.Account == nil {
		return nil, fmt.Errorf("%w: account is required", ledger.ErrInvalidParameter)
	}

	// Oracle quantities and feed prices are untrusted; the ledger only
	// holds 8-decimal values.
	qty, price := ledger.Q8(req.Quantity), ledger.Q8(req.Price)
	intent := req.Intent
	if intent.Valid() && req.Quantity.IsPositive() && qty.IsZero() {
		intent = ledger.Hold
	}

	work := req.Account.Clone()
	work.Mark(price, req.At)

	if err := Validate(work, intent, qty, price); err != nil {
		return nil, err
	}

	res := &Result{Legs: Translate(work.Quantity, intent, qty)}
	history := req.History
	seq := req.NextSeq

	for _, leg := range res.Legs {
		if leg.Action == ledger.Hold {
			continue
		}

		// The remainder of a flip was sized by the reverse limit; the
		// ledger's own funds checks guard it.
		if !leg.Remainder {
			max := sizer.New(work, price).MaxFor(leg.Action)
			if leg.Quantity.GreaterThan(max) {
				return nil, fmt.Errorf("%w: %s %s exceeds max %s", ledger.ErrSizeExceeded, leg.Action, leg.Quantity, max)
			}
		}

		fees := work.Fees.Compute(leg.Action, leg.Quantity, price)
		fill, err := work.Apply(leg.Action, leg.Quantity, price, fees, req.At)
		if err != nil {
			return nil, fmt.Errorf("apply %s %s @ %s: %w", leg.Action, leg.Quantity, price, err)
		}

		tr := journal.NewTradeRecord(req.TaskID, work, fill, req.At)
		tr.Seq = seq
		seq++
		if leg.Action.Closes() {
			tr.OpenID = journal.ResolveOpenID(history, leg.Action)
		}
		history = append(history[:len(history):len(history)], tr)

		res.Fills = append(res.Fills, fill)
		res.Trades = append(res.Trades, tr)
	}

	if err := work.CheckInvariants(); err != nil {
		return nil, err
	}

	res.Account = work
	res.Snapshot = journal.NewSnapshot(req.TaskID, work, req.At)
	return res, nil
}

// MarkToMarket is the HOLD outcome: the account revalued at price and a
// snapshot, with no trades.
func MarkToMarket(taskID string, acct *ledger.Account, price decimal.Decimal, at time.Time) *Result {
	work := acct.Clone()
	work.Mark(ledger.Q8(price), at)
	return &Result{
		Account:  work,
		Legs:     []Leg{{Action: ledger.Hold, Quantity: decimal.Zero}},
		Snapshot: journal.NewSnapshot(taskID, work, at),
	}
}
