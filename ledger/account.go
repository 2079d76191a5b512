package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LongLot is one FIFO entry of a long position.
type LongLot struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	OpenedAt time.Time       `json:"opened_at"`
}

// ShortLot is one FIFO entry of a short position together with the margin
// reserved when it was opened.
type ShortLot struct {
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	MarginReserved decimal.Decimal `json:"margin_reserved"`
	OpenedAt       time.Time       `json:"opened_at"`
}

// Account is the virtual ledger for a single instrument.
//
// Quantity is signed: positive is long, negative is short. MarketValue,
// MarginUsed, AvailableCash and TotalValue are derived and are refreshed
// after every operation; they are never adjusted incrementally.
type Account struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`

	InitialBalance decimal.Decimal `json:"initial_balance"`
	Cash           decimal.Decimal `json:"cash"`
	Quantity       decimal.Decimal `json:"quantity"`
	LastPrice      decimal.Decimal `json:"last_price"`

	MarketValue   decimal.Decimal `json:"market_value"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	AvailableCash decimal.Decimal `json:"available_cash"`
	TotalValue    decimal.Decimal `json:"total_value"`

	CumulativeFees decimal.Decimal `json:"cumulative_fees"`
	Fees           FeeSchedule     `json:"fees"`

	LongLots  []LongLot  `json:"long_lots"`
	ShortLots []ShortLot `json:"short_lots"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount returns a flat account holding initial cash.
func NewAccount(id, symbol string, initial decimal.Decimal, fees FeeSchedule) (*Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidParameter)
	}
	if !initial.IsPositive() {
		return nil, fmt.Errorf("%w: initial balance must be > 0, got %s", ErrInvalidParameter, initial)
	}
	if err := fees.Validate(); err != nil {
		return nil, err
	}

	a := &Account{
		ID:             id,
		Symbol:         symbol,
		InitialBalance: Q8(initial),
		Fees:           fees,
	}
	a.Reset()
	return a, nil
}

// Reset returns the account to its initial balance with no position.
func (a *Account) Reset() {
	a.Cash = a.InitialBalance
	a.Quantity = zero
	a.LastPrice = zero
	a.CumulativeFees = zero
	a.LongLots = nil
	a.ShortLots = nil
	a.recompute()
}

// Side is derived from the sign of Quantity; a flat account reports LONG.
func (a *Account) Side() Side {
	if a.Quantity.IsNegative() {
		return Short
	}
	return Long
}

// IsFlat reports whether the account holds no position.
func (a *Account) IsFlat() bool { return a.Quantity.IsZero() }

// Clone returns a deep copy; lot slices are not shared.
func (a *Account) Clone() *Account {
	c := *a
	if a.LongLots != nil {
		c.LongLots = append([]LongLot(nil), a.LongLots...)
	}
	if a.ShortLots != nil {
		c.ShortLots = append([]ShortLot(nil), a.ShortLots...)
	}
	return &c
}

// recompute refreshes the derived fields in a fixed order:
// market value, margin used, available cash, total value.
func (a *Account) recompute() {
	a.MarketValue = Q8(a.Quantity.Mul(a.LastPrice))

	if a.Side() == Short {
		a.MarginUsed = a.MarketValue.Abs()
		a.AvailableCash = Q8(a.Cash.Sub(a.MarginUsed))
	} else {
		a.MarginUsed = zero
		a.AvailableCash = a.Cash
	}
	if a.AvailableCash.IsNegative() {
		a.AvailableCash = zero
	}

	a.TotalValue = Q8(a.Cash.Add(a.MarketValue))
}

// ProfitLoss is TotalValue less the initial balance.
func (a *Account) ProfitLoss() decimal.Decimal {
	return Q8(a.TotalValue.Sub(a.InitialBalance))
}

// ProfitLossPercent is ProfitLoss as a percentage of the initial balance.
func (a *Account) ProfitLossPercent() decimal.Decimal {
	return Q8(Div(a.ProfitLoss(), a.InitialBalance).Mul(hundred))
}

// AvgLongCost is the quantity weighted entry price of the open long lots.
func (a *Account) AvgLongCost() decimal.Decimal {
	cost, qty := zero, zero
	for _, l := range a.LongLots {
		cost = cost.Add(l.Price.Mul(l.Quantity))
		qty = qty.Add(l.Quantity)
	}
	return Q8(Div(cost, qty))
}

// AvgShortPrice is the quantity weighted entry price of the open short lots.
func (a *Account) AvgShortPrice() decimal.Decimal {
	proceeds, qty := zero, zero
	for _, l := range a.ShortLots {
		proceeds = proceeds.Add(l.Price.Mul(l.Quantity))
		qty = qty.Add(l.Quantity)
	}
	return Q8(Div(proceeds, qty))
}

// AvgEntryPrice returns the average entry of whichever side is open.
func (a *Account) AvgEntryPrice() decimal.Decimal {
	switch {
	case a.Quantity.IsPositive():
		return a.AvgLongCost()
	case a.Quantity.IsNegative():
		return a.AvgShortPrice()
	}
	return zero
}

// FloatingPL is the unrealized profit of the open position at LastPrice.
func (a *Account) FloatingPL() decimal.Decimal {
	switch {
	case a.Quantity.IsPositive():
		return Q8(a.LastPrice.Sub(a.AvgLongCost()).Mul(a.Quantity))
	case a.Quantity.IsNegative():
		return Q8(a.AvgShortPrice().Sub(a.LastPrice).Mul(a.Quantity.Abs()))
	}
	return zero
}

// CheckInvariants verifies the bookkeeping rules that every committed
// account must satisfy.
func (a *Account) CheckInvariants() error {
	if a.Cash.IsNegative() {
		return fmt.Errorf("%w: cash %s is negative", ErrInvariant, a.Cash)
	}

	longSum, shortSum := zero, zero
	for _, l := range a.LongLots {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: long lot with quantity %s", ErrInvariant, l.Quantity)
		}
		longSum = longSum.Add(l.Quantity)
	}
	for _, l := range a.ShortLots {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: short lot with quantity %s", ErrInvariant, l.Quantity)
		}
		shortSum = shortSum.Add(l.Quantity)
	}

	switch {
	case a.Quantity.IsPositive():
		if !longSum.Equal(a.Quantity) || len(a.ShortLots) > 0 {
			return fmt.Errorf("%w: long lots %s do not match quantity %s", ErrInvariant, longSum, a.Quantity)
		}
	case a.Quantity.IsNegative():
		if !shortSum.Equal(a.Quantity.Abs()) || len(a.LongLots) > 0 {
			return fmt.Errorf("%w: short lots %s do not match quantity %s", ErrInvariant, shortSum, a.Quantity)
		}
	default:
		if len(a.LongLots) > 0 || len(a.ShortLots) > 0 {
			return fmt.Errorf("%w: flat account still holds lots", ErrInvariant)
		}
	}

	want := a.Clone()
	want.recompute()
	if !want.MarginUsed.Equal(a.MarginUsed) ||
		!want.AvailableCash.Equal(a.AvailableCash) ||
		!want.MarketValue.Equal(a.MarketValue) ||
		!want.TotalValue.Equal(a.TotalValue) {
		return fmt.Errorf("%w: derived fields are stale", ErrInvariant)
	}
	return nil
}
