package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, "BTCUSDT", cfg.Account.Symbol)
	assert.True(t, decimal.NewFromInt(100000).Equal(cfg.Account.InitialBalance))
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing symbol", func(c *Config) { c.Account.Symbol = "" }, "account.symbol is required"},
		{"zero balance", func(c *Config) { c.Account.InitialBalance = decimal.Zero }, "account.initial_balance must be positive"},
		{"negative fee", func(c *Config) { c.Account.Fees.TaxRate = decimal.NewFromInt(-1) }, "account.fees"},
		{"bad start", func(c *Config) { c.Task.Start = "yesterday" }, "task.start"},
		{"end before start", func(c *Config) { c.Task.End = "2023-12-31" }, "task.end must not be before task.start"},
		{"bad granularity", func(c *Config) { c.Task.Granularity = "weekly" }, "task.granularity"},
		{"zero interval", func(c *Config) { c.Task.DecisionInterval = 0 }, "task.decision_interval"},
		{"unknown source", func(c *Config) { c.Market.Source = "ftp" }, "market.source"},
		{"csv without dir", func(c *Config) { c.Market.DataDir = "" }, "market.data_dir is required"},
		{"bad ttl", func(c *Config) { c.Market.CacheTTL = "soon" }, "market.cache_ttl"},
		{"script without path", func(c *Config) { c.Oracle.Type = "script" }, "oracle.script is required"},
		{"http without url", func(c *Config) { c.Oracle.Type = "http" }, "oracle.url is required"},
		{"unknown oracle", func(c *Config) { c.Oracle.Type = "magic" }, "oracle.type"},
		{"ema cross", func(c *Config) { c.Oracle.Type = "ema_cross" }, ""},
		{"ema cross bad periods", func(c *Config) { c.Oracle.Type = "ema_cross"; c.Oracle.EMACross.FastPeriod = 50 }, "oracle.ema_cross"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store = StoreConfig{Driver: "postgres"} }, "store.dsn is required for postgres"},
		{"memory without dsn", func(c *Config) { c.Store = StoreConfig{Driver: "memory"} }, ""},
		{"alpaca without dir", func(c *Config) { c.Market.Source = "alpaca"; c.Market.DataDir = "" }, ""},
		{"negative attempts", func(c *Config) { c.Runner.MaxAttempts = -1 }, "runner.max_attempts"},
		{"negative indicator period", func(c *Config) { c.Runner.Indicators.ATR = -1 }, "runner.indicators"},
		{"ema cross atr gate", func(c *Config) {
			c.Oracle.Type = "ema_cross"
			c.Oracle.EMACross.ATRPeriod = 14
			c.Oracle.EMACross.MaxATRPercent = 5
		}, ""},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			cfg := Default()
			cfg.Account.ID = "acct-1"
			cfg.Account.Fees = ledger.NoFees()
			cfg.Oracle.Type = "script"
			cfg.Oracle.Script = "decisions.yaml"
			cfg.Oracle.Timeout = "5s"
			path := filepath.Join(tmpDir, "test"+ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.Equal(t, cfg.Account.ID, loaded.Account.ID)
			assert.True(t, cfg.Account.InitialBalance.Equal(loaded.Account.InitialBalance))
			assert.True(t, loaded.Account.Fees.CommissionBuy.IsZero())
			assert.Equal(t, cfg.Task, loaded.Task)
			assert.Equal(t, cfg.Oracle.Script, loaded.Oracle.Script)
			assert.Equal(t, cfg.Oracle.Timeout, loaded.Oracle.Timeout)
			assert.Equal(t, cfg.Oracle.EMACross.SlowPeriod, loaded.Oracle.EMACross.SlowPeriod)
			assert.True(t, cfg.Oracle.EMACross.Fraction.Equal(loaded.Oracle.EMACross.Fraction))
			assert.Equal(t, cfg.Runner, loaded.Runner)
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
account:
  symbol: ETHUSDT
  initial_balance: "2500.50"
  fees:
    commission_buy: 0.002
    commission_sell: 0.002
task:
  start: 2024-02-01
  end: 2024-02-29T00:00:00Z
  granularity: hourly
  decision_interval: 4
store:
  driver: memory
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", cfg.Account.Symbol)
	assert.Equal(t, "2500.5", cfg.Account.InitialBalance.String())
	assert.Equal(t, "0.002", cfg.Account.Fees.CommissionBuy.String())
	assert.Equal(t, "hold", cfg.Oracle.Type)
	assert.Equal(t, 3, cfg.Runner.MaxAttempts)
	assert.Equal(t, indicators.DefaultPeriods(), cfg.Runner.Indicators)
	assert.Empty(t, cfg.Market.TrendDir)

	spec, err := cfg.TaskSpec("acct-9")
	require.NoError(t, err)
	assert.Equal(t, "acct-9", spec.AccountID)
	assert.Equal(t, "ETHUSDT", spec.Symbol)
	assert.Equal(t, market.Hourly, spec.Granularity)
	assert.Equal(t, 4, spec.DecisionInterval)
	assert.True(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Equal(spec.StartDate))
	assert.True(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC).Equal(spec.EndDate))
}

func TestLoadInvalidFile(t *testing.T) {
	t.Parallel()
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account: [1, 2"), 0o644))
	_, err = LoadFromFile(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("TRADESIM_STORE_DRIVER=postgres\nTRADESIM_STORE_DSN=postgres://localhost/tradesim\n"), 0o644))

	t.Setenv(EnvStoreDriver, "")
	t.Setenv(EnvStoreDSN, "")
	t.Setenv(EnvAlpacaKey, "key-from-env")
	t.Setenv(EnvTrendDir, "/data/trends")
	os.Unsetenv(EnvStoreDriver)
	os.Unsetenv(EnvStoreDSN)

	require.NoError(t, LoadEnv(env, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "postgres", os.Getenv(EnvStoreDriver))

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/tradesim", cfg.Store.DSN)
	assert.Equal(t, "key-from-env", cfg.Market.Alpaca.KeyID)
	assert.Equal(t, "/data/trends", cfg.Market.TrendDir)
	assert.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1h", time.Hour, false},
		{"invalid", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			d, err := MarketConfig{CacheTTL: tt.in}.TTL()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}
