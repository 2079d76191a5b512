// Package alpaca reads historical bars from the Alpaca market data API.
// It never places orders.
package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
)

// barsClient is the slice of *marketdata.Client the provider uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// Options configure the data client. Empty credentials fall back to the
// APCA_API_KEY_ID / APCA_API_SECRET_KEY environment variables read by the
// SDK.
type Options struct {
	KeyID     string
	SecretKey string
	DataURL   string
	Feed      string
	Crypto    bool
}

type Provider struct {
	client barsClient
	feed   string
	crypto bool
}

var _ market.Provider = (*Provider)(nil)

func NewProvider(opts Options) *Provider {
	return &Provider{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.KeyID,
			APISecret: opts.SecretKey,
			BaseURL:   opts.DataURL,
		}),
		feed:   opts.Feed,
		crypto: opts.Crypto,
	}
}

func timeFrame(g market.Granularity) (marketdata.TimeFrame, error) {
	switch g {
	case market.Daily:
		return marketdata.OneDay, nil
	case market.Hourly:
		return marketdata.OneHour, nil
	case market.Minute:
		return marketdata.OneMin, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca: unsupported granularity %q", g)
}

func (p *Provider) Bars(ctx context.Context, symbol string, g market.Granularity, start, end time.Time) ([]market.Bar, error) {
	tf, err := timeFrame(g)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = g.Truncate(start)
	end = g.EndOfRange(end)

	var bars []market.Bar
	if p.crypto {
		raw, err := p.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("alpaca crypto bars %s: %w", symbol, err)
		}
		for _, b := range raw {
			bars = append(bars, market.Bar{
				Time:   b.Timestamp,
				Open:   decimal.NewFromFloat(b.Open),
				High:   decimal.NewFromFloat(b.High),
				Low:    decimal.NewFromFloat(b.Low),
				Close:  decimal.NewFromFloat(b.Close),
				Volume: decimal.NewFromFloat(float64(b.Volume)),
			})
		}
	} else {
		req := marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
		}
		if p.feed != "" {
			req.Feed = marketdata.Feed(p.feed)
		}
		raw, err := p.client.GetBars(symbol, req)
		if err != nil {
			return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
		}
		for _, b := range raw {
			bars = append(bars, market.Bar{
				Time:   b.Timestamp,
				Open:   decimal.NewFromFloat(b.Open),
				High:   decimal.NewFromFloat(b.High),
				Low:    decimal.NewFromFloat(b.Low),
				Close:  decimal.NewFromFloat(b.Close),
				Volume: decimal.NewFromFloat(float64(b.Volume)),
			})
		}
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: alpaca %s %s", market.ErrNoData, symbol, g)
	}
	return market.Normalize(bars, g), nil
}
