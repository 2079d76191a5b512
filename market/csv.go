package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var csvHeader = []string{"date", "open", "high", "low", "close", "volume"}

// CSVProvider reads kline files laid out as
//
//	<Dir>/<SYMBOL>_<granularity>_kline.csv
//
// with a header row naming at least date and close. Times without a zone
// are taken as UTC.
type CSVProvider struct {
	Dir string
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// Path returns the file backing symbol at granularity g.
func (p *CSVProvider) Path(symbol string, g Granularity) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s_%s_kline.csv", symbol, g))
}

func (p *CSVProvider) Bars(ctx context.Context, symbol string, g Granularity, start, end time.Time) ([]Bar, error) {
	all, err := p.Read(symbol, g)
	if err != nil {
		return nil, err
	}
	if !start.IsZero() {
		start = g.Truncate(start)
	}
	if !end.IsZero() {
		end = g.EndOfRange(end)
	}

	out := make([]Bar, 0, len(all))
	for _, b := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if inRange(b.Time, start, end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Read loads and normalizes the whole file for symbol.
func (p *CSVProvider) Read(symbol string, g Granularity) ([]Bar, error) {
	f, err := os.Open(p.Path(symbol, g))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, symbol, g)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path(symbol, g), err)
	}
	return Normalize(bars, g), nil
}

// Write merges bars into the file for symbol, keeping the newest row for
// duplicated timestamps.
func (p *CSVProvider) Write(symbol string, g Granularity, bars []Bar) error {
	existing, err := p.Read(symbol, g)
	if err != nil && !errors.Is(err, ErrNoData) {
		return err
	}
	merged := Normalize(append(existing, bars...), g)

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	tmp := p.Path(symbol, g) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, merged); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p.Path(symbol, g))
}

// Symbols lists the symbols with a file at granularity g.
func (p *CSVProvider) Symbols(g Granularity) ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, err
	}
	suffix := fmt.Sprintf("_%s_kline.csv", g)
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), suffix))
	}
	sort.Strings(out)
	return out, nil
}

// ReadCSV parses kline rows. Columns are located by header name; rows with
// an empty date are skipped.
func ReadCSV(r io.Reader) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cols := make(map[string]int)
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	dateCol, ok := cols["date"]
	if !ok {
		if dateCol, ok = cols["time"]; !ok {
			if dateCol, ok = cols["timestamp"]; !ok {
				return nil, fmt.Errorf("missing date column in header %v", header)
			}
		}
	}
	if _, ok := cols["close"]; !ok {
		return nil, fmt.Errorf("missing close column in header %v", header)
	}

	var bars []Bar
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		if dateCol >= len(row) || strings.TrimSpace(row[dateCol]) == "" {
			continue
		}

		t, err := parseDate(row[dateCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := Bar{Time: t}
		for name, dst := range map[string]*decimal.Decimal{
			"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close, "volume": &b.Volume,
		} {
			i, ok := cols[name]
			if !ok || i >= len(row) || strings.TrimSpace(row[i]) == "" {
				continue
			}
			v, err := decimal.NewFromString(strings.TrimSpace(row[i]))
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s %q: %w", line, name, row[i], err)
			}
			*dst = v
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// WriteCSV writes bars with the canonical kline header.
func WriteCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			b.Open.StringFixed(8),
			b.High.StringFixed(8),
			b.Low.StringFixed(8),
			b.Close.StringFixed(8),
			b.Volume.StringFixed(8),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}
