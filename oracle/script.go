package oracle

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScriptEntry is one scheduled decision.
type ScriptEntry struct {
	At       time.Time `yaml:"at"`
	Decision `yaml:",inline"`
}

// Script replays fixed decisions keyed by decision timestamp and holds at
// every other timestamp. It is deterministic, which makes it the oracle of
// choice for tests and reproducible runs.
type Script struct {
	entries map[int64]Decision
}

func NewScript(entries []ScriptEntry) *Script {
	s := &Script{entries: make(map[int64]Decision, len(entries))}
	for _, e := range entries {
		s.entries[e.At.UTC().UnixNano()] = e.Decision
	}
	return s
}

type scriptFile struct {
	Decisions []ScriptEntry `yaml:"decisions"`
}

// LoadScript reads a YAML file of the form
//
//	decisions:
//	  - at: 2024-01-02T00:00:00Z
//	    action: BUY
//	    quantity: 1.5
//	    confidence: 0.8
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, e := range f.Decisions {
		if e.At.IsZero() {
			return nil, fmt.Errorf("script entry %d: at is required", i)
		}
		if err := Validate(&f.Decisions[i].Decision); err != nil {
			return nil, fmt.Errorf("script entry %d: %w", i, err)
		}
	}
	return NewScript(f.Decisions), nil
}

func (s *Script) Decide(ctx context.Context, in Context) (*Decision, error) {
	d, ok := s.entries[in.Timestamp.UTC().UnixNano()]
	if !ok {
		return HoldDecision("no scripted decision"), nil
	}
	return &d, nil
}

// Times returns the scheduled timestamps in order.
func (s *Script) Times() []time.Time {
	out := make([]time.Time, 0, len(s.entries))
	for ns := range s.entries {
		out = append(out, time.Unix(0, ns).UTC())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
