package ledger

import "github.com/shopspring/decimal"

// Places is the number of fractional digits every stored amount carries.
const Places = 8

// divPrecision is the scale used for intermediate division results before
// they are quantized to Places.
const divPrecision = 16

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Q8 quantizes d to 8 places, rounding half away from zero.
func Q8(d decimal.Decimal) decimal.Decimal { return d.Round(Places) }

// Ceil8 rounds d toward positive infinity at 8 places.
func Ceil8(d decimal.Decimal) decimal.Decimal { return d.RoundCeil(Places) }

// Floor8 rounds d toward negative infinity at 8 places.
func Floor8(d decimal.Decimal) decimal.Decimal { return d.RoundFloor(Places) }

// Div divides a by b keeping enough precision for a later quantization.
// Division by zero yields zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return zero
	}
	return a.DivRound(b, divPrecision)
}

// D parses a decimal literal and panics on malformed input. Intended for
// constants and tests.
func D(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
