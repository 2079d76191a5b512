package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimals are persisted as their exact string form so no precision is
// lost to a float column. Lots, fee schedules and stats are JSON.

// Decimals parses named string columns in order, stopping at the first
// failure.
type Decimals struct {
	err error
}

// Parse parses s into dst unless an earlier Parse failed.
func (d *Decimals) Parse(dst *decimal.Decimal, column, s string) {
	if d.err != nil {
		return
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.err = fmt.Errorf("parse %s %q: %w", column, s, err)
		return
	}
	*dst = v
}

func (d *Decimals) Err() error { return d.err }

// EncodeJSON marshals v for a TEXT/JSONB column.
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeJSON unmarshals a column written by EncodeJSON. An empty string
// leaves v untouched.
func DecodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
