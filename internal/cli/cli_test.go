package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t       *testing.T
	dir     string
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	day := func(i int) time.Time { return time.Date(2024, 3, 1+i, 0, 0, 0, 0, time.UTC) }
	var bars []market.Bar
	for i, c := range []string{"50000", "55000", "55000"} {
		v := decimal.RequireFromString(c)
		bars = append(bars, market.Bar{Time: day(i), Open: v, High: v, Low: v, Close: v, Volume: decimal.NewFromInt(1)})
	}
	require.NoError(t, market.NewCSVProvider(filepath.Join(dir, "data")).Write("BTCUSDT", market.Daily, bars))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "BTCUSDT_trend_data.csv"), []byte("date,trend\n2024-03-01,up\n"), 0o644))

	script := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(script, []byte(`decisions:
  - at: 2024-03-01T00:00:00Z
    action: BUY
    quantity: 1
    confidence: 0.9
  - at: 2024-03-02T00:00:00Z
    action: SELL
    quantity: 1
    confidence: 0.9
`), 0o644))

	cfgPath := filepath.Join(dir, "tradesim.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`account:
  id: acct-cli
  symbol: BTCUSDT
  initial_balance: 100000
  fees:
    commission_buy: 0.001
    commission_sell: 0.001
task:
  start: 2024-03-01
  end: 2024-03-03
  granularity: daily
  decision_interval: 1
market:
  source: csv
  data_dir: `+filepath.Join(dir, "data")+`
  trend_dir: `+filepath.Join(dir, "data")+`
  cache_size: 8
  cache_ttl: 1m
oracle:
  type: script
  script: `+script+`
store:
  driver: sqlite
  dsn: `+filepath.Join(dir, "tradesim.db")+`
log:
  level: error
  file: `+filepath.Join(dir, "logs", "tradesim.log")+`
`), 0o644))

	return &harness{t: t, dir: dir, cfgPath: cfgPath}
}

func (h *harness) exec(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", h.cfgPath, "--env-file", filepath.Join(h.dir, "none.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustExec(args ...string) string {
	h.t.Helper()
	out, err := h.exec(args...)
	require.NoError(h.t, err, out)
	return out
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out := h.mustExec("version")
	assert.Equal(t, "tradesim "+Version+"\n", out)
}

func TestRunAndInspect(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec("run")
	m := regexp.MustCompile(`account (\S+), task (\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 3, out)
	assert.Equal(t, "acct-cli", m[1])
	taskID := m[2]
	assert.Contains(t, out, "Status:        COMPLETED")
	assert.Contains(t, out, "Trades:        2")
	assert.Contains(t, out, "Final Cash:    104895.00")

	out = h.mustExec("task", "list")
	assert.Contains(t, out, taskID)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "3/3")

	out = h.mustExec("stats", taskID, "--json", "--recompute")
	var st struct {
		TotalTrades int     `json:"total_trades"`
		FinalCash   float64 `json:"final_cash"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.TotalTrades)
	assert.Equal(t, 104895.0, st.FinalCash)

	trades := filepath.Join(h.dir, "trades.csv")
	snaps := filepath.Join(h.dir, "snapshots.csv")
	out = h.mustExec("export", taskID, "--trades", trades, "--snapshots", snaps)
	assert.Contains(t, out, "wrote 2 trades")
	data, err := os.ReadFile(trades)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
	data, err = os.ReadFile(snaps)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)

	decsPath := filepath.Join(h.dir, "decisions.csv")
	out = h.mustExec("export", taskID, "--trades", trades, "--snapshots", snaps, "--decisions", decsPath)
	assert.Contains(t, out, "wrote 3 decisions")
	data, err = os.ReadFile(decsPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)

	out = h.mustExec("decisions", taskID)
	assert.Contains(t, out, "OUTCOME")
	assert.Contains(t, out, "2024-03-02T00:00:00Z")
	assert.Contains(t, out, "executed")
	assert.Contains(t, out, "hold")

	out = h.mustExec("decisions", taskID, "--json")
	var decs []struct {
		Action       string `json:"action"`
		Outcome      string `json:"outcome"`
		LastDayTrend string `json:"lastday_trend"`
		Attempts     int    `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decs))
	require.Len(t, decs, 3)
	assert.Equal(t, "BUY", decs[0].Action)
	assert.Equal(t, "executed", decs[1].Outcome)
	assert.Equal(t, "hold", decs[2].Outcome)
	assert.Empty(t, decs[0].LastDayTrend)
	assert.Equal(t, "up", decs[1].LastDayTrend)
	assert.Equal(t, 1, decs[2].Attempts)

	_, err = h.exec("decisions", "no-such-task")
	assert.Error(t, err)

	_, err = h.exec("task", "pause", taskID)
	assert.ErrorIs(t, err, task.ErrInvalidTransition)

	out = h.mustExec("account", "show", "acct-cli")
	assert.Contains(t, out, `"id": "acct-cli"`)
}

func TestTaskLifecycleCommands(t *testing.T) {
	h := newHarness(t)

	out := h.mustExec("account", "create", "--id", "acct-2", "--balance", "500")
	assert.Contains(t, out, `"id": "acct-2"`)

	_, err := h.exec("account", "create", "--id", "acct-3", "--balance", "lots")
	assert.ErrorContains(t, err, "bad --balance")

	taskID := strings.TrimSpace(h.mustExec("task", "create", "--account", "acct-2", "--end", "2024-03-02"))
	require.NotEmpty(t, taskID)

	out = h.mustExec("task", "status", taskID)
	var p task.Progress
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, task.Pending, p.Status)

	out = h.mustExec("task", "start", taskID)
	assert.Contains(t, out, "Status:        COMPLETED")
	assert.Contains(t, out, "Progress:      2/2")

	other := strings.TrimSpace(h.mustExec("task", "create", "--account", "acct-2"))
	out = h.mustExec("task", "cancel", other)
	assert.Equal(t, "task "+other+" is CANCELLED\n", out)

	_, err = h.exec("task", "resume", other)
	assert.ErrorIs(t, err, task.ErrInvalidTransition)

	_, err = h.exec("task", "create", "--account", "nope")
	assert.Error(t, err)
}

func TestFlagOverridesAndBadConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec("task", "list", "--driver", "mysql")
	assert.ErrorContains(t, err, "store.driver")

	out := h.mustExec("task", "list", "--driver", "memory")
	assert.Equal(t, "ID  ACCOUNT  SYMBOL  STATUS  PROGRESS  START  END\n", out)

	out = h.mustExec("data", "list")
	assert.Equal(t, "BTCUSDT\n", out)
}
