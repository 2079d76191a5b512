package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const trendDateLayout = "2006-01-02"

// Trends maps a UTC calendar day to the label the trend file gives it,
// such as "up" or "down".
type Trends map[string]string

// TrendSource loads the trend labels for a symbol.
type TrendSource interface {
	Trends(symbol string) (Trends, error)
}

// On returns the label for the day containing t, or "" when there is none.
func (tr Trends) On(t time.Time) string {
	return tr[t.UTC().Format(trendDateLayout)]
}

// PreviousDay returns the label for the calendar day before t.
func (tr Trends) PreviousDay(t time.Time) string {
	return tr.On(t.UTC().AddDate(0, 0, -1))
}

// TrendPath returns the trend file for symbol:
//
//	<Dir>/<SYMBOL>_trend_data.csv
func (p *CSVProvider) TrendPath(symbol string) string {
	return filepath.Join(p.Dir, symbol+"_trend_data.csv")
}

// Trends reads the trend file for symbol. A missing file is ErrNoData.
func (p *CSVProvider) Trends(symbol string) (Trends, error) {
	f, err := os.Open(p.TrendPath(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s trend", ErrNoData, symbol)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr, err := ReadTrends(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.TrendPath(symbol), err)
	}
	return tr, nil
}

// ReadTrends parses rows with date and trend columns located by header
// name. Later rows for the same day win; rows with an empty date or label
// are skipped.
func ReadTrends(r io.Reader) (Trends, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return Trends{}, nil
	}
	if err != nil {
		return nil, err
	}

	dateCol, trendCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			dateCol = i
		case "trend":
			trendCol = i
		}
	}
	if dateCol < 0 || trendCol < 0 {
		return nil, fmt.Errorf("trend header needs date and trend, got %v", header)
	}

	out := make(Trends)
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
		if dateCol >= len(row) || trendCol >= len(row) {
			continue
		}
		ds, label := strings.TrimSpace(row[dateCol]), strings.TrimSpace(row[trendCol])
		if ds == "" || label == "" {
			continue
		}
		t, err := parseDate(ds)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out[t.Format(trendDateLayout)] = label
	}
	return out, nil
}
