package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Fill describes the effect of one applied operation.
type Fill struct {
	Action         Action
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Fees           Fees
	RealizedPL     decimal.Decimal
	ReleasedMargin decimal.Decimal
}

// Apply dispatches to the operation named by a. Fees must already be
// computed for (a, qty, price); the account is modified in place, so callers
// wanting all-or-nothing semantics apply to a Clone.
func (a *Account) Apply(act Action, qty, price decimal.Decimal, fees Fees, at time.Time) (Fill, error) {
	switch act {
	case Buy:
		return a.ApplyBuy(qty, price, fees, at)
	case Sell:
		return a.ApplySell(qty, price, fees, at)
	case ShortSell:
		return a.ApplyShortSell(qty, price, fees, at)
	case CoverShort:
		return a.ApplyCoverShort(qty, price, fees, at)
	case Hold:
		return a.ApplyHold(price, at)
	}
	return Fill{}, fmt.Errorf("%w: unknown action %q", ErrInvalidParameter, act)
}

func checkTrade(qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be > 0, got %s", ErrInvalidParameter, qty)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be > 0, got %s", ErrInvalidParameter, price)
	}
	return nil
}

// ApplyBuy opens or adds to a long position.
func (a *Account) ApplyBuy(qty, price decimal.Decimal, fees Fees, at time.Time) (Fill, error) {
	if err := checkTrade(qty, price); err != nil {
		return Fill{}, err
	}
	if a.Side() == Short {
		return Fill{}, fmt.Errorf("%w: buy while short %s", ErrWrongSide, a.Quantity)
	}

	cost := Q8(qty.Mul(price).Add(fees.Total))
	if a.Cash.LessThan(cost) {
		return Fill{}, fmt.Errorf("%w: buy needs %s, cash %s", ErrInsufficientFunds, cost, a.Cash)
	}

	a.Cash = a.Cash.Sub(cost)
	a.Quantity = a.Quantity.Add(qty)
	a.LongLots = append(a.LongLots, LongLot{Price: price, Quantity: qty, OpenedAt: at})
	a.finish(price, fees, at)

	return Fill{Action: Buy, Quantity: qty, Price: price, Fees: fees, RealizedPL: zero, ReleasedMargin: zero}, nil
}

// ApplySell reduces a long position, consuming lots oldest first.
func (a *Account) ApplySell(qty, price decimal.Decimal, fees Fees, at time.Time) (Fill, error) {
	if err := checkTrade(qty, price); err != nil {
		return Fill{}, err
	}
	if !a.Quantity.IsPositive() || qty.GreaterThan(a.Quantity) {
		return Fill{}, fmt.Errorf("%w: sell %s, holding %s", ErrOverSell, qty, a.Quantity)
	}

	cash := Q8(a.Cash.Add(qty.Mul(price)).Sub(fees.Total))
	if cash.IsNegative() {
		return Fill{}, fmt.Errorf("%w: sell fees %s exceed cash plus proceeds", ErrInsufficientFunds, fees.Total)
	}

	lots, basis := consumeLong(a.LongLots, qty)

	a.Cash = cash
	a.Quantity = a.Quantity.Sub(qty)
	a.LongLots = lots
	a.finish(price, fees, at)

	realized := Q8(qty.Mul(price).Sub(basis).Sub(fees.Total))
	return Fill{Action: Sell, Quantity: qty, Price: price, Fees: fees, RealizedPL: realized, ReleasedMargin: zero}, nil
}

// ApplyShortSell opens or adds to a short position. The free funds
// (available cash less margin already in use) must cover the new margin
// requirement plus fees.
func (a *Account) ApplyShortSell(qty, price decimal.Decimal, fees Fees, at time.Time) (Fill, error) {
	if err := checkTrade(qty, price); err != nil {
		return Fill{}, err
	}
	if a.Quantity.IsPositive() {
		return Fill{}, fmt.Errorf("%w: short while long %s", ErrWrongSide, a.Quantity)
	}

	requirement := Q8(qty.Mul(price))
	free := a.AvailableCash.Sub(a.MarginUsed)
	if free.LessThan(requirement.Add(fees.Total)) {
		return Fill{}, fmt.Errorf("%w: short needs %s margin plus %s fees, free %s",
			ErrInsufficientFunds, requirement, fees.Total, free)
	}

	a.Cash = Q8(a.Cash.Add(requirement).Sub(fees.Total))
	a.Quantity = a.Quantity.Sub(qty)
	a.ShortLots = append(a.ShortLots, ShortLot{
		Price:          price,
		Quantity:       qty,
		MarginReserved: requirement,
		OpenedAt:       at,
	})
	a.finish(price, fees, at)

	return Fill{Action: ShortSell, Quantity: qty, Price: price, Fees: fees, RealizedPL: zero, ReleasedMargin: zero}, nil
}

// ApplyCoverShort buys back part or all of a short position, consuming short
// lots oldest first and releasing their reserved margin pro rata.
func (a *Account) ApplyCoverShort(qty, price decimal.Decimal, fees Fees, at time.Time) (Fill, error) {
	if err := checkTrade(qty, price); err != nil {
		return Fill{}, err
	}
	if !a.Quantity.IsNegative() || qty.GreaterThan(a.Quantity.Abs()) {
		return Fill{}, fmt.Errorf("%w: cover %s, short %s", ErrOverCover, qty, a.Quantity.Abs())
	}

	cost := Q8(qty.Mul(price).Add(fees.Total))
	if a.Cash.LessThan(cost) {
		return Fill{}, fmt.Errorf("%w: cover needs %s, cash %s", ErrInsufficientFunds, cost, a.Cash)
	}

	lots, proceeds, released := consumeShort(a.ShortLots, qty)

	a.Cash = a.Cash.Sub(cost)
	a.Quantity = a.Quantity.Add(qty)
	a.ShortLots = lots
	a.finish(price, fees, at)

	realized := Q8(proceeds.Sub(qty.Mul(price)).Sub(fees.Total))
	return Fill{Action: CoverShort, Quantity: qty, Price: price, Fees: fees, RealizedPL: realized, ReleasedMargin: released}, nil
}

// ApplyHold marks the account to price without trading.
func (a *Account) ApplyHold(price decimal.Decimal, at time.Time) (Fill, error) {
	if price.IsNegative() {
		return Fill{}, fmt.Errorf("%w: price must be >= 0, got %s", ErrInvalidParameter, price)
	}
	a.Mark(price, at)
	fees := Fees{Amount: zero, Commission: zero, Tax: zero, Total: zero}
	return Fill{Action: Hold, Quantity: zero, Price: price, Fees: fees, RealizedPL: zero, ReleasedMargin: zero}, nil
}

// Mark revalues the account at price. A zero price keeps the previous mark.
func (a *Account) Mark(price decimal.Decimal, at time.Time) {
	if price.IsPositive() {
		a.LastPrice = Q8(price)
	}
	if !at.IsZero() {
		a.UpdatedAt = at
	}
	a.recompute()
}

func (a *Account) finish(price decimal.Decimal, fees Fees, at time.Time) {
	a.CumulativeFees = Q8(a.CumulativeFees.Add(fees.Total))
	a.Mark(price, at)
}

// consumeLong removes qty from the front of lots, splitting the lot that
// straddles the boundary. It returns the remaining lots and the cost basis
// of the consumed quantity.
func consumeLong(lots []LongLot, qty decimal.Decimal) ([]LongLot, decimal.Decimal) {
	basis := zero
	remaining := qty
	i := 0
	for ; i < len(lots) && remaining.IsPositive(); i++ {
		take := Min(lots[i].Quantity, remaining)
		basis = basis.Add(take.Mul(lots[i].Price))
		remaining = remaining.Sub(take)
		if take.LessThan(lots[i].Quantity) {
			split := lots[i]
			split.Quantity = split.Quantity.Sub(take)
			return append([]LongLot{split}, lots[i+1:]...), basis
		}
	}
	if i >= len(lots) {
		return nil, basis
	}
	return append([]LongLot(nil), lots[i:]...), basis
}

// consumeShort is the short-side counterpart of consumeLong. It also
// returns the entry proceeds of the consumed quantity and the margin
// released from the consumed lots.
func consumeShort(lots []ShortLot, qty decimal.Decimal) ([]ShortLot, decimal.Decimal, decimal.Decimal) {
	proceeds, released := zero, zero
	remaining := qty
	i := 0
	for ; i < len(lots) && remaining.IsPositive(); i++ {
		lot := lots[i]
		take := Min(lot.Quantity, remaining)
		proceeds = proceeds.Add(take.Mul(lot.Price))
		remaining = remaining.Sub(take)
		if take.LessThan(lot.Quantity) {
			part := Q8(lot.MarginReserved.Mul(Div(take, lot.Quantity)))
			released = released.Add(part)
			lot.Quantity = lot.Quantity.Sub(take)
			lot.MarginReserved = lot.MarginReserved.Sub(part)
			return append([]ShortLot{lot}, lots[i+1:]...), proceeds, released
		}
		released = released.Add(lot.MarginReserved)
	}
	if i >= len(lots) {
		return nil, proceeds, released
	}
	return append([]ShortLot(nil), lots[i:]...), proceeds, released
}
