package executor

import (
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/journal"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	D  = ledger.D
	t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, D(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func newAccount(t *testing.T, balance string, fees ledger.FeeSchedule) *ledger.Account {
	t.Helper()
	a, err := ledger.NewAccount("acct", "BTCUSDT", D(balance), fees)
	require.NoError(t, err)
	return a
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	type leg struct {
		act ledger.Action
		qty string
	}
	tests := []struct {
		name     string
		position string
		intent   ledger.Action
		qty      string
		want     []leg
	}{
		{"flat buy", "0", ledger.Buy, "2", []leg{{ledger.Buy, "2"}}},
		{"flat short", "0", ledger.ShortSell, "2", []leg{{ledger.ShortSell, "2"}}},
		{"flat sell holds", "0", ledger.Sell, "2", []leg{{ledger.Hold, "0"}}},
		{"flat cover holds", "0", ledger.CoverShort, "2", []leg{{ledger.Hold, "0"}}},
		{"long buy adds", "3", ledger.Buy, "2", []leg{{ledger.Buy, "2"}}},
		{"long cover adds", "3", ledger.CoverShort, "2", []leg{{ledger.Buy, "2"}}},
		{"long partial sell", "3", ledger.Sell, "2", []leg{{ledger.Sell, "2"}}},
		{"long exact sell", "3", ledger.ShortSell, "3", []leg{{ledger.Sell, "3"}}},
		{"long flip", "3", ledger.Sell, "5", []leg{{ledger.Sell, "3"}, {ledger.ShortSell, "2"}}},
		{"short cover", "-3", ledger.CoverShort, "1", []leg{{ledger.CoverShort, "1"}}},
		{"short flip", "-3", ledger.Buy, "4", []leg{{ledger.CoverShort, "3"}, {ledger.Buy, "1"}}},
		{"short adds", "-3", ledger.Sell, "1", []leg{{ledger.ShortSell, "1"}}},
		{"hold", "-3", ledger.Hold, "1", []leg{{ledger.Hold, "0"}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Translate(D(tc.position), tc.intent, D(tc.qty))
			require.Len(t, got, len(tc.want))
			for i, w := range tc.want {
				assert.Equal(t, w.act, got[i].Action)
				assertDec(t, w.qty, got[i].Quantity)
			}
			if len(got) == 2 {
				assert.True(t, got[1].Remainder)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	a := newAccount(t, "1000", ledger.NoFees())

	assert.NoError(t, Validate(a, ledger.Hold, D("0"), D("0")))
	assert.NoError(t, Validate(a, ledger.Buy, D("10"), D("100")))
	assert.ErrorIs(t, Validate(a, ledger.Buy, D("10.00000001"), D("100")), ledger.ErrSizeExceeded)
	assert.ErrorIs(t, Validate(a, ledger.Buy, D("1"), D("0")), ledger.ErrInvalidParameter)
	assert.ErrorIs(t, Validate(a, ledger.Sell, D("0"), D("100")), ledger.ErrInvalidParameter)
	assert.ErrorIs(t, Validate(a, ledger.Action("X"), D("1"), D("100")), ledger.ErrInvalidParameter)
}

func TestExecuteSampleScenario(t *testing.T) {
	t.Parallel()

	fees := ledger.FeeSchedule{CommissionBuy: D("0.001"), CommissionSell: D("0.001")}
	a := newAccount(t, "100000", fees)

	res, err := Execute(Request{TaskID: "task", Account: a, Intent: ledger.Buy, Quantity: D("1"), Price: D("50000"), At: t0, NextSeq: 1})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	buy := res.Trades[0]
	assertDec(t, "49950", res.Account.Cash)
	assertDec(t, "1", res.Account.Quantity)
	assertDec(t, "50", buy.TotalFees)
	assert.Equal(t, int64(1), buy.Seq)
	assert.Equal(t, ledger.Long, buy.Side)
	assert.Equal(t, t0, res.Snapshot.Timestamp)

	// Input account is untouched.
	assertDec(t, "100000", a.Cash)

	t1 := t0.AddDate(0, 0, 1)
	res, err = Execute(Request{TaskID: "task", Account: res.Account, Intent: ledger.Sell, Quantity: D("1"), Price: D("55000"), At: t1, History: res.Trades, NextSeq: 2})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	sell := res.Trades[0]
	assertDec(t, "104895", res.Account.Cash)
	assertDec(t, "0", res.Account.Quantity)
	assertDec(t, "104895", res.Account.TotalValue)
	assertDec(t, "55", sell.TotalFees)
	assert.Equal(t, buy.ID, sell.OpenID)
	assertDec(t, "104895", res.Snapshot.TotalValue)
	assertDec(t, "4895", res.Snapshot.ProfitLoss)
}

func TestExecuteFlipLongToShort(t *testing.T) {
	t.Parallel()

	a := newAccount(t, "1000", ledger.NoFees())
	res, err := Execute(Request{TaskID: "task", Account: a, Intent: ledger.Buy, Quantity: D("5"), Price: D("100"), At: t0})
	require.NoError(t, err)
	history := res.Trades

	res, err = Execute(Request{TaskID: "task", Account: res.Account, Intent: ledger.Sell, Quantity: D("15"), Price: D("100"), At: t0.Add(time.Hour), History: history, NextSeq: 1})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.Equal(t, ledger.Sell, res.Trades[0].Action)
	assert.Equal(t, history[0].ID, res.Trades[0].OpenID)
	assert.Equal(t, ledger.ShortSell, res.Trades[1].Action)
	assert.Equal(t, ledger.Short, res.Trades[1].Side)
	assert.Empty(t, res.Trades[1].OpenID)
	assert.Equal(t, int64(2), res.Trades[1].Seq)

	acct := res.Account
	assert.Equal(t, ledger.Short, acct.Side())
	assertDec(t, "-10", acct.Quantity)
	assertDec(t, "2000", acct.Cash)
	assertDec(t, "1000", acct.MarginUsed)
	assertDec(t, "1000", acct.AvailableCash)
	assert.Equal(t, ledger.Short, res.Snapshot.Side)

	// And back again: cover 10, buy the rest.
	history = append(history, res.Trades...)
	res, err = Execute(Request{TaskID: "task", Account: acct, Intent: ledger.Buy, Quantity: D("12"), Price: D("50"), At: t0.Add(2 * time.Hour), History: history})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Equal(t, ledger.CoverShort, res.Trades[0].Action)
	assert.Equal(t, history[2].ID, res.Trades[0].OpenID)
	assertDec(t, "2", res.Account.Quantity)
	assertDec(t, "1400", res.Account.Cash)
}

func TestExecuteRejections(t *testing.T) {
	t.Parallel()

	a := newAccount(t, "1000", ledger.DefaultFees())

	_, err := Execute(Request{Account: a, Intent: ledger.Buy, Quantity: D("100"), Price: D("100"), At: t0})
	assert.ErrorIs(t, err, ledger.ErrSizeExceeded)

	_, err = Execute(Request{Account: nil, Intent: ledger.Buy, Quantity: D("1"), Price: D("1")})
	assert.ErrorIs(t, err, ledger.ErrInvalidParameter)

	// A corrupt account fails the post-trade invariant check and nothing
	// leaks back to the caller.
	bad := newAccount(t, "1000", ledger.NoFees())
	bad.Quantity = D("1")
	_, err = Execute(Request{Account: bad, Intent: ledger.Buy, Quantity: D("1"), Price: D("10"), At: t0})
	assert.ErrorIs(t, err, ledger.ErrInvariant)
	assertDec(t, "1000", bad.Cash)
	assert.Empty(t, bad.LongLots)
}

func TestExecuteHoldAndFlatSell(t *testing.T) {
	t.Parallel()

	a := newAccount(t, "1000", ledger.NoFees())

	for _, intent := range []ledger.Action{ledger.Hold, ledger.Sell, ledger.CoverShort} {
		qty := D("1")
		if intent == ledger.Hold {
			qty = decimal.Zero
		}
		res, err := Execute(Request{TaskID: "task", Account: a, Intent: intent, Quantity: qty, Price: D("100"), At: t0})
		require.NoError(t, err, intent)
		assert.Empty(t, res.Trades)
		assertDec(t, "1000", res.Account.Cash)
		assertDec(t, "100", res.Account.LastPrice)
	}

	res := MarkToMarket("task", a, D("42"), t0)
	assertDec(t, "42", res.Snapshot.Price)
	assert.Empty(t, res.Trades)
	assertDec(t, "0", a.LastPrice)
}

func TestOpenIDAcrossPartialCloses(t *testing.T) {
	t.Parallel()

	a := newAccount(t, "100000", ledger.NoFees())
	var history []journal.TradeRecord
	step := func(intent ledger.Action, qty string) journal.TradeRecord {
		res, err := Execute(Request{TaskID: "task", Account: a, Intent: intent, Quantity: D(qty), Price: D("100"), At: t0, History: history})
		require.NoError(t, err)
		require.Len(t, res.Trades, 1)
		a = res.Account
		history = append(history, res.Trades...)
		return res.Trades[0]
	}

	b1 := step(ledger.Buy, "2")
	s1 := step(ledger.Sell, "1")
	s2 := step(ledger.Sell, "1")
	assert.Equal(t, b1.ID, s1.OpenID)
	assert.Equal(t, b1.ID, s2.OpenID)
}

func TestExecuteQuantizesUntrustedInputs(t *testing.T) {
	t.Parallel()

	eight := func(name string, d decimal.Decimal) {
		t.Helper()
		assert.Truef(t, d.Equal(ledger.Q8(d)), "%s %s has more than 8 decimals", name, d)
	}

	a := newAccount(t, "1000", ledger.NoFees())
	res, err := Execute(Request{
		TaskID:   "task",
		Account:  a,
		Intent:   ledger.Buy,
		Quantity: D("0.123456789123"),
		Price:    D("100.123456789"),
		At:       t0,
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	acct := res.Account
	assertDec(t, "0.12345679", acct.Quantity)
	assertDec(t, "100.12345679", acct.LastPrice)
	require.Len(t, acct.LongLots, 1)
	assertDec(t, "0.12345679", acct.LongLots[0].Quantity)
	assertDec(t, "100.12345679", acct.LongLots[0].Price)
	assertDec(t, "0.12345679", res.Trades[0].Quantity)
	assertDec(t, "100.12345679", res.Trades[0].Price)

	for name, d := range map[string]decimal.Decimal{
		"cash":         acct.Cash,
		"quantity":     acct.Quantity,
		"last price":   acct.LastPrice,
		"market value": acct.MarketValue,
		"total value":  acct.TotalValue,
		"snapshot":     res.Snapshot.TotalValue,
		"trade amount": res.Trades[0].Amount,
	} {
		eight(name, d)
	}

	// Below the smallest representable quantity the decision is a hold.
	res, err = Execute(Request{TaskID: "task", Account: a, Intent: ledger.Buy, Quantity: D("0.000000001"), Price: D("100"), At: t0})
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, ledger.Hold, res.Legs[0].Action)
	assertDec(t, "1000", res.Account.Cash)

	res = MarkToMarket("task", a, D("99.999999999"), t0)
	assertDec(t, "100", res.Account.LastPrice)
}
