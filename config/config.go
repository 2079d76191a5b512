// Package config loads the tradesim configuration file and applies
// environment overrides on top of it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/tradesim/indicators"
	"github.com/rustyeddy/tradesim/internal/logging"
	"github.com/rustyeddy/tradesim/ledger"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/oracle"
	"github.com/rustyeddy/tradesim/task"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete tradesim configuration.
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Task    TaskConfig    `json:"task" yaml:"task"`
	Market  MarketConfig  `json:"market" yaml:"market"`
	Oracle  OracleConfig  `json:"oracle" yaml:"oracle"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Runner  RunnerConfig  `json:"runner" yaml:"runner"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// AccountConfig describes the simulated account. An empty ID is generated.
type AccountConfig struct {
	ID             string             `json:"id,omitempty" yaml:"id,omitempty"`
	Symbol         string             `json:"symbol" yaml:"symbol"`
	InitialBalance decimal.Decimal    `json:"initial_balance" yaml:"initial_balance"`
	Fees           ledger.FeeSchedule `json:"fees" yaml:"fees"`
}

// TaskConfig describes the backtest window. Dates are YYYY-MM-DD or
// RFC 3339.
type TaskConfig struct {
	Symbol           string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Start            string `json:"start" yaml:"start"`
	End              string `json:"end" yaml:"end"`
	Granularity      string `json:"granularity" yaml:"granularity"`
	DecisionInterval int    `json:"decision_interval" yaml:"decision_interval"`
}

type MarketConfig struct {
	Source    string       `json:"source" yaml:"source"` // "csv" or "alpaca"
	DataDir   string       `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	CacheTTL  string       `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"` // e.g. "10m"
	CacheSize int          `json:"cache_size,omitempty" yaml:"cache_size,omitempty"`
	TrendDir  string       `json:"trend_dir,omitempty" yaml:"trend_dir,omitempty"` // <SYMBOL>_trend_data.csv files; empty disables
	Alpaca    AlpacaConfig `json:"alpaca,omitempty" yaml:"alpaca,omitempty"`
}

type AlpacaConfig struct {
	KeyID     string `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty"`
	DataURL   string `json:"data_url,omitempty" yaml:"data_url,omitempty"`
	Feed      string `json:"feed,omitempty" yaml:"feed,omitempty"`
	Crypto    bool   `json:"crypto,omitempty" yaml:"crypto,omitempty"`
}

type OracleConfig struct {
	Type     string          `json:"type" yaml:"type"` // "hold", "script", "http" or "ema_cross"
	Script   string          `json:"script,omitempty" yaml:"script,omitempty"`
	URL      string          `json:"url,omitempty" yaml:"url,omitempty"`
	Token    string          `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout  string          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	EMACross oracle.EMACross `json:"ema_cross" yaml:"ema_cross"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

type RunnerConfig struct {
	MaxAttempts    int     `json:"max_attempts" yaml:"max_attempts"`
	RetryDelay     string  `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	RecentBars     int     `json:"recent_bars" yaml:"recent_bars"`
	RiskFreeRate   float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	PeriodsPerYear int     `json:"periods_per_year" yaml:"periods_per_year"`

	// Indicators selects the summary handed to the oracle.
	Indicators indicators.Periods `json:"indicators" yaml:"indicators"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

type MetricsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"` // e.g. ":9090"
}

// Environment variables that override the file.
const (
	EnvStoreDriver  = "TRADESIM_STORE_DRIVER"
	EnvStoreDSN     = "TRADESIM_STORE_DSN"
	EnvDataDir      = "TRADESIM_DATA_DIR"
	EnvTrendDir     = "TRADESIM_TREND_DIR"
	EnvOracleURL    = "TRADESIM_ORACLE_URL"
	EnvOracleToken  = "TRADESIM_ORACLE_TOKEN"
	EnvAlpacaKey    = "APCA_API_KEY_ID"
	EnvAlpacaSecret = "APCA_API_SECRET_KEY"
	EnvAlpacaURL    = "APCA_API_DATA_URL"
)

// LoadEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set are never overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, applies
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields with any environment variables that are set.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Store.Driver, EnvStoreDriver)
	set(&c.Store.DSN, EnvStoreDSN)
	set(&c.Market.DataDir, EnvDataDir)
	set(&c.Market.TrendDir, EnvTrendDir)
	set(&c.Oracle.URL, EnvOracleURL)
	set(&c.Oracle.Token, EnvOracleToken)
	set(&c.Market.Alpaca.KeyID, EnvAlpacaKey)
	set(&c.Market.Alpaca.SecretKey, EnvAlpacaSecret)
	set(&c.Market.Alpaca.DataURL, EnvAlpacaURL)
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Account.Symbol == "" {
		return fmt.Errorf("account.symbol is required")
	}
	if !c.Account.InitialBalance.IsPositive() {
		return fmt.Errorf("account.initial_balance must be positive")
	}
	if err := c.Account.Fees.Validate(); err != nil {
		return fmt.Errorf("account.fees: %w", err)
	}

	spec, err := c.TaskSpec(c.Account.ID)
	if err != nil {
		return err
	}
	if spec.EndDate.Before(spec.StartDate) {
		return fmt.Errorf("task.end must not be before task.start")
	}
	if spec.DecisionInterval < 1 {
		return fmt.Errorf("task.decision_interval must be >= 1")
	}

	switch c.Market.Source {
	case "csv":
		if c.Market.DataDir == "" {
			return fmt.Errorf("market.data_dir is required for csv source")
		}
	case "alpaca":
	default:
		return fmt.Errorf("market.source must be 'csv' or 'alpaca'")
	}
	if p := c.Runner.Indicators; p.MA < 0 || p.EMA < 0 || p.ATR < 0 || p.ADX < 0 {
		return fmt.Errorf("runner.indicators periods must not be negative")
	}
	if c.Market.CacheSize < 0 {
		return fmt.Errorf("market.cache_size must not be negative")
	}
	if _, err := c.Market.TTL(); err != nil {
		return fmt.Errorf("market.cache_ttl: %w", err)
	}

	switch c.Oracle.Type {
	case "hold":
	case "script":
		if c.Oracle.Script == "" {
			return fmt.Errorf("oracle.script is required for script oracle")
		}
	case "http":
		if c.Oracle.URL == "" {
			return fmt.Errorf("oracle.url is required for http oracle")
		}
	case "ema_cross":
		if err := c.Oracle.EMACross.Validate(); err != nil {
			return fmt.Errorf("oracle.ema_cross: %w", err)
		}
	default:
		return fmt.Errorf("oracle.type must be 'hold', 'script', 'http' or 'ema_cross'")
	}
	if _, err := c.Oracle.TimeoutDuration(); err != nil {
		return fmt.Errorf("oracle.timeout: %w", err)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be 'memory', 'sqlite' or 'postgres'")
	}

	if c.Runner.MaxAttempts < 0 {
		return fmt.Errorf("runner.max_attempts must not be negative")
	}
	if c.Runner.PeriodsPerYear < 0 {
		return fmt.Errorf("runner.periods_per_year must not be negative")
	}
	if _, err := c.Runner.Delay(); err != nil {
		return fmt.Errorf("runner.retry_delay: %w", err)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// TaskSpec converts the task section into a task spec for accountID. The
// symbol falls back to the account's. Only parse errors are reported here.
func (c *Config) TaskSpec(accountID string) (task.Spec, error) {
	start, err := ParseDate(c.Task.Start)
	if err != nil {
		return task.Spec{}, fmt.Errorf("task.start: %w", err)
	}
	end, err := ParseDate(c.Task.End)
	if err != nil {
		return task.Spec{}, fmt.Errorf("task.end: %w", err)
	}
	g, err := market.ParseGranularity(c.Task.Granularity)
	if err != nil {
		return task.Spec{}, fmt.Errorf("task.granularity: %w", err)
	}

	symbol := c.Task.Symbol
	if symbol == "" {
		symbol = c.Account.Symbol
	}
	return task.Spec{
		AccountID:        accountID,
		Symbol:           strings.ToUpper(symbol),
		StartDate:        start,
		EndDate:          end,
		Granularity:      g,
		DecisionInterval: c.Task.DecisionInterval,
	}, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339 and returns UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func (m MarketConfig) TTL() (time.Duration, error) { return parseDuration(m.CacheTTL) }

func (o OracleConfig) TimeoutDuration() (time.Duration, error) { return parseDuration(o.Timeout) }

func (r RunnerConfig) Delay() (time.Duration, error) { return parseDuration(r.RetryDelay) }

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Symbol:         "BTCUSDT",
			InitialBalance: decimal.NewFromInt(100000),
			Fees:           ledger.DefaultFees(),
		},
		Task: TaskConfig{
			Start:            "2024-01-01",
			End:              "2024-12-31",
			Granularity:      string(market.Daily),
			DecisionInterval: 1,
		},
		Market: MarketConfig{
			Source:    "csv",
			DataDir:   "./data",
			CacheTTL:  "10m",
			CacheSize: 128,
		},
		Oracle: OracleConfig{
			Type:     "hold",
			Timeout:  "30s",
			EMACross: oracle.DefaultEMACross(),
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "./tradesim.db",
		},
		Runner: RunnerConfig{
			MaxAttempts:    3,
			RecentBars:     20,
			PeriodsPerYear: 252,
			Indicators:     indicators.DefaultPeriods(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
