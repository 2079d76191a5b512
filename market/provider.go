// Package market supplies historical price bars to the backtest runner.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData is returned when a source has nothing for a symbol.
var ErrNoData = errors.New("market: no data")

// Provider returns bars for symbol within [start, end], ascending and
// de-duplicated per normalized timestamp.
type Provider interface {
	Bars(ctx context.Context, symbol string, g Granularity, start, end time.Time) ([]Bar, error)
}

// PriceAt returns the close of the bar starting at t, reporting false when
// no bar exists there.
func PriceAt(ctx context.Context, p Provider, symbol string, g Granularity, t time.Time) (decimal.Decimal, bool, error) {
	t = g.Truncate(t)
	bars, err := p.Bars(ctx, symbol, g, t, t)
	if errors.Is(err, ErrNoData) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	for _, b := range bars {
		if b.Time.Equal(t) {
			return b.Close, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
