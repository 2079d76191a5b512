package market

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the bar size of a data set.
type Granularity string

const (
	Daily  Granularity = "daily"
	Hourly Granularity = "hourly"
	Minute Granularity = "minute"
)

func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day", "1d", "d":
		return Daily, nil
	case "hourly", "hour", "1h", "h":
		return Hourly, nil
	case "minute", "min", "1m", "m":
		return Minute, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

func (g Granularity) Valid() bool {
	return g == Daily || g == Hourly || g == Minute
}

// Step is the duration of one bar.
func (g Granularity) Step() time.Duration {
	switch g {
	case Daily:
		return 24 * time.Hour
	case Hourly:
		return time.Hour
	}
	return time.Minute
}

// Truncate normalizes t (in UTC) to the start of its bar.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Daily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Hourly:
		return t.Truncate(time.Hour)
	}
	return t.Truncate(time.Minute)
}

// EndOfRange widens an inclusive range end so daily queries cover the
// whole final day.
func (g Granularity) EndOfRange(t time.Time) time.Time {
	if g == Daily {
		return g.Truncate(t).Add(24*time.Hour - time.Nanosecond)
	}
	return t.UTC()
}

// IsDecisionPoint reports whether a bar at t is a decision timestamp for
// the given interval. Daily bars always are; hourly bars when the hour is a
// multiple of interval; minute bars when the minute of the day is.
func (g Granularity) IsDecisionPoint(t time.Time, interval int) bool {
	if interval <= 1 {
		return true
	}
	t = t.UTC()
	switch g {
	case Hourly:
		return t.Hour()%interval == 0
	case Minute:
		return (t.Hour()*60+t.Minute())%interval == 0
	}
	return true
}

// DecisionTimes returns the ordered decision timestamps of bars.
func DecisionTimes(bars []Bar, g Granularity, interval int) []time.Time {
	out := make([]time.Time, 0, len(bars))
	for _, b := range bars {
		if g.IsDecisionPoint(b.Time, interval) {
			out = append(out, b.Time)
		}
	}
	return out
}
