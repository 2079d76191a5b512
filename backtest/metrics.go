package backtest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rustyeddy/tradesim/journal"
)

// Decision outcomes recorded per timestamp.
const (
	OutcomeExecuted = journal.OutcomeExecuted
	OutcomeHold     = journal.OutcomeHold
	OutcomeRejected = journal.OutcomeRejected
	OutcomeSkipped  = journal.OutcomeSkipped
	OutcomeNoPrice  = journal.OutcomeNoPrice
)

// Metrics holds the runner's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Decisions      *prometheus.CounterVec
	OracleAttempts prometheus.Counter
	OracleFailures prometheus.Counter
	Trades         *prometheus.CounterVec
	TasksFinished  *prometheus.CounterVec
	StepDuration   prometheus.Histogram
	RunningTasks   prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tradesim"
	}
	f := promauto.With(reg)

	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "decisions_total",
			Help:      "Decision timestamps processed, by outcome",
		}, []string{"outcome"}),
		OracleAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "attempts_total",
			Help:      "Total number of oracle calls",
		}),
		OracleFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "failures_total",
			Help:      "Oracle calls that errored or returned an invalid decision",
		}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "trades_total",
			Help:      "Trades executed, by action",
		}, []string{"action"}),
		TasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "tasks_finished_total",
			Help:      "Runs that ended, by final status",
		}, []string{"status"}),
		StepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "step_duration_seconds",
			Help:      "Time to process one decision timestamp",
			Buckets:   prometheus.DefBuckets,
		}),
		RunningTasks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "running_tasks",
			Help:      "Worker goroutines currently running",
		}),
	}
}

func (m *Metrics) decision(outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) oracleAttempt(failed bool) {
	if m == nil {
		return
	}
	m.OracleAttempts.Inc()
	if failed {
		m.OracleFailures.Inc()
	}
}

func (m *Metrics) trade(action string) {
	if m != nil {
		m.Trades.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) finished(status string) {
	if m != nil {
		m.TasksFinished.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) step(start time.Time) {
	if m != nil {
		m.StepDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) workers(delta float64) {
	if m != nil {
		m.RunningTasks.Add(delta)
	}
}
