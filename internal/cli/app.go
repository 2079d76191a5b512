package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/tradesim/backtest"
	"github.com/rustyeddy/tradesim/config"
	"github.com/rustyeddy/tradesim/internal/logging"
	"github.com/rustyeddy/tradesim/market"
	"github.com/rustyeddy/tradesim/market/alpaca"
	"github.com/rustyeddy/tradesim/oracle"
	"github.com/rustyeddy/tradesim/stats"
	"github.com/rustyeddy/tradesim/store"
	"github.com/rustyeddy/tradesim/store/memory"
	"github.com/rustyeddy/tradesim/store/postgres"
	"github.com/rustyeddy/tradesim/store/sqlite"
	"github.com/rustyeddy/tradesim/task"
)

// app is everything a command needs, built from the config file and the
// persistent flags.
type app struct {
	cfg      *config.Config
	store    store.Store
	market   market.Provider
	manager  *backtest.Manager
	registry *prometheus.Registry
	closeLog func() error
}

// loadConfig reads the env file and the config file, then applies the
// flag overrides.
func (rc *RootConfig) loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(rc.EnvFile); err != nil {
		return nil, err
	}

	var cfg *config.Config
	if rc.ConfigPath != "" {
		c, err := config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if rc.Driver != "" {
		cfg.Store.Driver = rc.Driver
	}
	if rc.DBPath != "" {
		cfg.Store.DSN = rc.DBPath
	}
	if rc.LogLevel != "" {
		cfg.Log.Level = rc.LogLevel
	}
	if rc.LogFile != "" {
		cfg.Log.File = rc.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (rc *RootConfig) open(ctx context.Context) (*app, error) {
	cfg, err := rc.loadConfig()
	if err != nil {
		return nil, err
	}

	closeLog, err := logging.Setup(logging.Options{File: cfg.Log.File, Level: cfg.Log.Level})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, closeLog: closeLog}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st
	if a.market, err = newProvider(cfg.Market); err != nil {
		a.close()
		return nil, err
	}
	orc, err := newOracle(cfg.Oracle)
	if err != nil {
		a.close()
		return nil, err
	}
	delay, err := cfg.Runner.Delay()
	if err != nil {
		a.close()
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner := &backtest.Runner{
		Store:  a.store,
		Market: a.market,
		Oracle: orc,
		Options: backtest.RunnerOptions{
			MaxAttempts: cfg.Runner.MaxAttempts,
			RetryDelay:  delay,
			RecentBars:  cfg.Runner.RecentBars,
			Indicators:  cfg.Runner.Indicators,
			Stats: stats.Options{
				RiskFreeRate:   cfg.Runner.RiskFreeRate,
				PeriodsPerYear: cfg.Runner.PeriodsPerYear,
			},
		},
		Metrics: backtest.NewMetrics(a.registry, "tradesim"),
		Logger:  log.Default(),
	}
	if cfg.Market.TrendDir != "" {
		runner.Trends = market.NewCSVProvider(cfg.Market.TrendDir)
	}
	a.manager, err = backtest.NewManager(runner)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.manager.Shutdown(ctx); err != nil {
			log.Printf("WARN shutdown: %v", err)
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("WARN close store: %v", err)
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// newProvider builds the configured bar source, wrapped in the LRU cache
// when cache_size is positive.
func newProvider(mc config.MarketConfig) (market.Provider, error) {
	var src market.Provider
	switch mc.Source {
	case "csv":
		src = market.NewCSVProvider(mc.DataDir)
	case "alpaca":
		src = newAlpaca(mc)
	default:
		return nil, fmt.Errorf("unknown market source %q", mc.Source)
	}

	if mc.CacheSize <= 0 {
		return src, nil
	}
	ttl, err := mc.TTL()
	if err != nil {
		return nil, err
	}
	return market.NewCache(src, mc.CacheSize, ttl), nil
}

func newAlpaca(mc config.MarketConfig) *alpaca.Provider {
	return alpaca.NewProvider(alpaca.Options{
		KeyID:     mc.Alpaca.KeyID,
		SecretKey: mc.Alpaca.SecretKey,
		DataURL:   mc.Alpaca.DataURL,
		Feed:      mc.Alpaca.Feed,
		Crypto:    mc.Alpaca.Crypto,
	})
}

func newOracle(oc config.OracleConfig) (oracle.Oracle, error) {
	switch oc.Type {
	case "hold":
		return oracle.Hold(), nil
	case "script":
		s, err := oracle.LoadScript(oc.Script)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		timeout, err := oc.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		return oracle.NewHTTP(oc.URL, oc.Token, timeout), nil
	case "ema_cross":
		return oc.EMACross, nil
	}
	return nil, fmt.Errorf("unknown oracle type %q", oc.Type)
}

// serveMetrics exposes the registry on addr until the returned func is
// called.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// follow waits for the task's worker. On interrupt the task is paused so
// it can be resumed later. The report is printed when the task ends.
func (a *app) follow(ctx context.Context, out io.Writer, taskID string) error {
	err := a.manager.Wait(ctx, taskID)
	if ctx.Err() != nil {
		bg := context.Background()
		if perr := a.manager.Pause(bg, taskID); perr != nil && !errors.Is(perr, task.ErrInvalidTransition) {
			return perr
		}
		err = a.manager.Wait(bg, taskID)
	}
	if err != nil {
		return err
	}

	t, gerr := a.store.GetTask(context.Background(), taskID)
	if gerr != nil {
		return gerr
	}
	switch t.Status {
	case task.Completed:
		st, err := a.manager.Stats(context.Background(), taskID, false)
		if err != nil {
			return err
		}
		backtest.PrintReport(out, t, st)
	case task.Paused:
		fmt.Fprintf(out, "task %s paused at %d/%d; resume with: tradesim task resume %s\n",
			t.ID, t.ProcessedItems, t.TotalItems, t.ID)
	default:
		fmt.Fprintf(out, "task %s is %s at %d/%d\n", t.ID, t.Status, t.ProcessedItems, t.TotalItems)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
