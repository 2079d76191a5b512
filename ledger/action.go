package ledger

import (
	"fmt"
	"strings"
)

// Action is a concrete ledger operation, or a trading intent when it comes
// from a decision source.
type Action string

const (
	Buy        Action = "BUY"
	Sell       Action = "SELL"
	ShortSell  Action = "SHORT_SELL"
	CoverShort Action = "COVER_SHORT"
	Hold       Action = "HOLD"
)

// Actions lists every known action in a stable order.
var Actions = []Action{Buy, Sell, ShortSell, CoverShort, Hold}

// ParseAction accepts any casing plus the "SHORT" and "COVER" shorthands.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	case "SHORT_SELL", "SHORT":
		return ShortSell, nil
	case "COVER_SHORT", "COVER":
		return CoverShort, nil
	case "HOLD", "":
		return Hold, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidParameter, s)
}

func (a Action) Valid() bool {
	switch a {
	case Buy, Sell, ShortSell, CoverShort, Hold:
		return true
	}
	return false
}

// Opens reports whether the action opens (or adds to) a position.
func (a Action) Opens() bool { return a == Buy || a == ShortSell }

// Closes reports whether the action reduces an existing position.
func (a Action) Closes() bool { return a == Sell || a == CoverShort }

// OpeningAction returns the action a close is matched against:
// SELL closes BUY and COVER_SHORT closes SHORT_SELL.
func (a Action) OpeningAction() (Action, bool) {
	switch a {
	case Sell:
		return Buy, true
	case CoverShort:
		return ShortSell, true
	}
	return "", false
}

// PositionSide is the side of the book an action trades on.
func (a Action) PositionSide() Side {
	if a == ShortSell || a == CoverShort {
		return Short
	}
	return Long
}

// Side is the direction of an account's position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)
