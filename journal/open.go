package journal

import (
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
)

// ResolveOpenID finds the opening trade a close should link to: the most
// recent BUY (for SELL) or SHORT_SELL (for COVER_SHORT) whose quantity has
// not been fully consumed by earlier linked closes. history must be in
// execution order. It returns "" when nothing is open or closeAction is
// not a closing action.
func ResolveOpenID(history []TradeRecord, closeAction ledger.Action) string {
	openAction, ok := closeAction.OpeningAction()
	if !ok {
		return ""
	}

	closed := make(map[string]decimal.Decimal)
	for _, t := range history {
		if t.Action == closeAction && t.OpenID != "" {
			closed[t.OpenID] = closed[t.OpenID].Add(t.Quantity)
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if t.Action != openAction {
			continue
		}
		if closed[t.ID].LessThan(t.Quantity) {
			return t.ID
		}
	}
	return ""
}

// Index maps trade ids to their records.
func Index(trades []TradeRecord) map[string]TradeRecord {
	m := make(map[string]TradeRecord, len(trades))
	for _, t := range trades {
		m[t.ID] = t
	}
	return m
}
