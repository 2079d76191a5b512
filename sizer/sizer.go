// Package sizer computes the largest quantity each action may trade given
// an account's cash, margin, position and fee schedule at a price.
package sizer

import (
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
)

// Sizer evaluates limits for one account at one price. It never mutates
// the account.
type Sizer struct {
	acct  *ledger.Account
	price decimal.Decimal
}

func New(acct *ledger.Account, price decimal.Decimal) Sizer {
	return Sizer{acct: acct, price: price}
}

// Limits is the full set of maximum quantities at a price.
type Limits struct {
	MaxBuy          decimal.Decimal `json:"max_buy"`
	MaxSell         decimal.Decimal `json:"max_sell"`
	MaxShort        decimal.Decimal `json:"max_short"`
	MaxCover        decimal.Decimal `json:"max_cover"`
	MaxReverseBuy   decimal.Decimal `json:"max_reverse_buy"`
	MaxReverseShort decimal.Decimal `json:"max_reverse_short"`
}

func (s Sizer) Limits() Limits {
	return Limits{
		MaxBuy:          s.MaxDirectBuy(),
		MaxSell:         s.MaxDirectSell(),
		MaxShort:        s.MaxDirectShort(),
		MaxCover:        s.MaxDirectCover(),
		MaxReverseBuy:   s.MaxReverseBuy(),
		MaxReverseShort: s.MaxReverseShort(),
	}
}

// direct is the shared buy/short algorithm: estimate the size funds could
// buy, price the fee on that estimate, hold back the fee plus one minimum
// commission, and size down what is left.
func (s Sizer) direct(act ledger.Action, funds decimal.Decimal) decimal.Decimal {
	if !s.price.IsPositive() || !funds.IsPositive() {
		return decimal.Zero
	}

	estimate := ledger.Ceil8(ledger.Div(funds, s.price))
	fee := s.acct.Fees.Compute(act, estimate, s.price).Total
	reserve := fee.Add(s.acct.Fees.MinCommission)
	usable := funds.Sub(reserve)

	q := ledger.Floor8(ledger.Div(usable, s.price))
	if q.IsNegative() {
		return decimal.Zero
	}
	return q
}

// MaxDirectBuy sizes a buy from available cash.
func (s Sizer) MaxDirectBuy() decimal.Decimal {
	return s.direct(ledger.Buy, s.acct.AvailableCash)
}

// MaxDirectShort sizes a short from available cash net of margin in use.
func (s Sizer) MaxDirectShort() decimal.Decimal {
	return s.direct(ledger.ShortSell, s.acct.AvailableCash.Sub(s.acct.MarginUsed))
}

func (s Sizer) MaxDirectSell() decimal.Decimal {
	if s.acct.Quantity.IsPositive() {
		return s.acct.Quantity
	}
	return decimal.Zero
}

func (s Sizer) MaxDirectCover() decimal.Decimal {
	if s.acct.Quantity.IsNegative() {
		return s.acct.Quantity.Abs()
	}
	return decimal.Zero
}

// MaxReverseShort is the largest SELL intent when long: the whole long
// position plus the short that the sale proceeds could then fund.
func (s Sizer) MaxReverseShort() decimal.Decimal {
	if !s.acct.Quantity.IsPositive() {
		return s.MaxDirectShort()
	}

	long := s.acct.Quantity
	gross := long.Mul(s.price)
	sellFee := s.acct.Fees.Compute(ledger.Sell, long, s.price).Total
	proceeds := ledger.Floor8(gross.Sub(sellFee))

	return s.direct(ledger.ShortSell, s.acct.AvailableCash.Add(proceeds)).Add(long)
}

// MaxReverseBuy is the largest BUY intent when short: the whole short
// position plus the long that the cash left after covering could fund.
func (s Sizer) MaxReverseBuy() decimal.Decimal {
	if !s.acct.Quantity.IsNegative() {
		return s.MaxDirectBuy()
	}

	short := s.acct.Quantity.Abs()
	coverFee := s.acct.Fees.Compute(ledger.CoverShort, short, s.price).Total
	cost := ledger.Ceil8(short.Mul(s.price).Add(coverFee))
	if s.acct.Cash.LessThan(cost) {
		return decimal.Zero
	}

	left := ledger.Floor8(s.acct.Cash.Sub(cost)).Sub(s.acct.Fees.MinCommission)
	return s.direct(ledger.Buy, left).Add(short)
}

// MaxFor returns the direct limit for a concrete ledger action.
func (s Sizer) MaxFor(act ledger.Action) decimal.Decimal {
	switch act {
	case ledger.Buy:
		return s.MaxDirectBuy()
	case ledger.Sell:
		return s.MaxDirectSell()
	case ledger.ShortSell:
		return s.MaxDirectShort()
	case ledger.CoverShort:
		return s.MaxDirectCover()
	}
	return decimal.Zero
}

// MaxForIntent returns the limit for a decision intent, which may flip the
// position: buy-side intents use MaxReverseBuy and sell-side intents use
// MaxReverseShort.
func (s Sizer) MaxForIntent(act ledger.Action) decimal.Decimal {
	switch act {
	case ledger.Buy, ledger.CoverShort:
		return s.MaxReverseBuy()
	case ledger.Sell, ledger.ShortSell:
		return s.MaxReverseShort()
	}
	return decimal.Zero
}
