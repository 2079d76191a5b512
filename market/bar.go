package market

import (
	"sort"
	"time"

	"github.com/rustyeddy/tradesim/ledger"
	"github.com/shopspring/decimal"
)

// Bar is one OHLCV interval. Time is the normalized start of the interval
// in UTC.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Normalize truncates bar times to g, rounds prices to 8 places, sorts
// ascending and drops duplicate timestamps keeping the last occurrence.
func Normalize(bars []Bar, g Granularity) []Bar {
	out := make([]Bar, 0, len(bars))
	seen := make(map[int64]int, len(bars))
	for _, b := range bars {
		b.Time = g.Truncate(b.Time)
		b.Open, b.High = ledger.Q8(b.Open), ledger.Q8(b.High)
		b.Low, b.Close = ledger.Q8(b.Low), ledger.Q8(b.Close)
		key := b.Time.UnixNano()
		if i, ok := seen[key]; ok {
			out[i] = b
			continue
		}
		seen[key] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Series is an ordered, de-duplicated set of bars with time lookup.
type Series struct {
	bars  []Bar
	index map[int64]int
}

// NewSeries expects bars already normalized.
func NewSeries(bars []Bar) *Series {
	s := &Series{bars: bars, index: make(map[int64]int, len(bars))}
	for i, b := range bars {
		s.index[b.Time.UnixNano()] = i
	}
	return s
}

func (s *Series) Len() int    { return len(s.bars) }
func (s *Series) Bars() []Bar { return s.bars }

// PriceAt returns the close of the bar starting at t.
func (s *Series) PriceAt(t time.Time) (decimal.Decimal, bool) {
	i, ok := s.index[t.UnixNano()]
	if !ok {
		return decimal.Zero, false
	}
	return s.bars[i].Close, true
}

// Recent returns up to n bars ending at t inclusive.
func (s *Series) Recent(t time.Time, n int) []Bar {
	if n <= 0 {
		return nil
	}
	end := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(t) })
	start := end - n
	if start < 0 {
		start = 0
	}
	return append([]Bar(nil), s.bars[start:end]...)
}

// LastBefore returns the close of the last bar at or before t.
func (s *Series) LastBefore(t time.Time) (decimal.Decimal, bool) {
	end := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(t) })
	if end == 0 {
		return decimal.Zero, false
	}
	return s.bars[end-1].Close, true
}
