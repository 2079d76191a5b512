// Package journal holds the immutable records a backtest produces: trades
// and per-decision snapshots of the ledger.
package journal

import (
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/pkg/id"
	"github.com/shopspring/decimal"
)

// TradeRecord is one executed ledger operation. Post-state fields capture
// the account right after the fill.
type TradeRecord struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	AccountID string        `json:"account_id"`
	Symbol    string        `json:"symbol"`
	Seq       int64         `json:"seq"`
	Action    ledger.Action `json:"action"`
	Side      ledger.Side   `json:"side"`

	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
	Tax        decimal.Decimal `json:"tax"`
	TotalFees  decimal.Decimal `json:"total_fees"`
	RealizedPL decimal.Decimal `json:"realized_pl"`

	// OpenID links a SELL or COVER_SHORT to the opening trade it closes.
	OpenID string `json:"open_id,omitempty"`

	// DecisionID is the decision that produced the trade.
	DecisionID string `json:"decision_id,omitempty"`

	Cash        decimal.Decimal `json:"cash"`
	Position    decimal.Decimal `json:"position"`
	MarketValue decimal.Decimal `json:"market_value"`
	TotalValue  decimal.Decimal `json:"total_value"`
	MarginUsed  decimal.Decimal `json:"margin_used"`
	AvgPrice    decimal.Decimal `json:"avg_price"`

	Timestamp time.Time `json:"timestamp"`
}

// NewTradeRecord builds the record for fill f applied to acct at the given
// decision time. acct must already reflect the fill.
func NewTradeRecord(taskID string, acct *ledger.Account, f ledger.Fill, at time.Time) TradeRecord {
	return TradeRecord{
		ID:          id.At(at),
		TaskID:      taskID,
		AccountID:   acct.ID,
		Symbol:      acct.Symbol,
		Action:      f.Action,
		Side:        f.Action.PositionSide(),
		Quantity:    f.Quantity,
		Price:       f.Price,
		Amount:      f.Fees.Amount,
		Commission:  f.Fees.Commission,
		Tax:         f.Fees.Tax,
		TotalFees:   f.Fees.Total,
		RealizedPL:  f.RealizedPL,
		Cash:        acct.Cash,
		Position:    acct.Quantity,
		MarketValue: acct.MarketValue,
		TotalValue:  acct.TotalValue,
		MarginUsed:  acct.MarginUsed,
		AvgPrice:    acct.AvgEntryPrice(),
		Timestamp:   at.UTC(),
	}
}

// Snapshot is a copy of the ledger at a decision timestamp.
type Snapshot struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`

	Price             decimal.Decimal `json:"price"`
	Cash              decimal.Decimal `json:"cash"`
	Quantity          decimal.Decimal `json:"quantity"`
	Side              ledger.Side     `json:"side"`
	MarketValue       decimal.Decimal `json:"market_value"`
	TotalValue        decimal.Decimal `json:"total_value"`
	MarginUsed        decimal.Decimal `json:"margin_used"`
	AvailableCash     decimal.Decimal `json:"available_cash"`
	CumulativeFees    decimal.Decimal `json:"cumulative_fees"`
	InitialBalance    decimal.Decimal `json:"initial_balance"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	FloatingPL        decimal.Decimal `json:"floating_pl"`

	LongLots  []ledger.LongLot  `json:"long_lots,omitempty"`
	ShortLots []ledger.ShortLot `json:"short_lots,omitempty"`
}

// NewSnapshot copies acct as of decision time at. The account should
// already be marked to the price of that timestamp.
func NewSnapshot(taskID string, acct *ledger.Account, at time.Time) Snapshot {
	c := acct.Clone()
	return Snapshot{
		ID:                id.At(at),
		TaskID:            taskID,
		AccountID:         acct.ID,
		Timestamp:         at.UTC(),
		Price:             c.LastPrice,
		Cash:              c.Cash,
		Quantity:          c.Quantity,
		Side:              c.Side(),
		MarketValue:       c.MarketValue,
		TotalValue:        c.TotalValue,
		MarginUsed:        c.MarginUsed,
		AvailableCash:     c.AvailableCash,
		CumulativeFees:    c.CumulativeFees,
		InitialBalance:    c.InitialBalance,
		ProfitLoss:        c.ProfitLoss(),
		ProfitLossPercent: c.ProfitLossPercent(),
		FloatingPL:        c.FloatingPL(),
		LongLots:          c.LongLots,
		ShortLots:         c.ShortLots,
	}
}
