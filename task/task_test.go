package task

import (
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/stretchr/testify/assert"
)

func TestTransitions(t *testing.T) {
	t.Parallel()

	legal := [][2]Status{
		{Pending, Running}, {Pending, Cancelled},
		{Running, Paused}, {Running, Completed}, {Running, Failed}, {Running, Cancelled},
		{Paused, Running}, {Paused, Cancelled},
		{Failed, Running},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]Status{
		{Pending, Paused}, {Pending, Completed},
		{Paused, Completed},
		{Completed, Running}, {Cancelled, Running}, {Completed, Cancelled},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.True(t, Completed.Terminal())
	assert.False(t, Paused.Terminal())
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := Spec{AccountID: "a", Symbol: "BTC", StartDate: start, EndDate: start.AddDate(0, 1, 0), Granularity: market.Daily, DecisionInterval: 1}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.EndDate = start.AddDate(0, 0, -1)
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Granularity = "weekly"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.DecisionInterval = 0
	assert.Error(t, bad.Validate())

	bad = ok
	bad.AccountID = ""
	assert.Error(t, bad.Validate())

	tk := New("t1", ok, start)
	assert.Equal(t, Pending, tk.Status)
	tk.TotalItems, tk.ProcessedItems = 4, 1
	assert.InDelta(t, 25.0, tk.Progress().Percent, 1e-9)
}
