package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	runsStartedTotal *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runsSkippedTotal prometheus.Counter
	runDuration      prometheus.Histogram
	runsInFlight     prometheus.Gauge

	recordsProcessedTotal prometheus.Counter
	recordErrorsTotal     prometheus.Counter
	ensureOutcomesTotal   *prometheus.CounterVec
	ruleErrorsTotal       *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}

	s.runsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govsync_runs_started_total",
		Help: "Total number of reconciliation runs started, by trigger.",
	}, []string{"trigger"})

	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govsync_runs_total",
		Help: "Total number of completed reconciliation runs by final status.",
	}, []string{"status"})

	s.runsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govsync_runs_skipped_total",
		Help: "Total number of triggers skipped because a run was in progress.",
	})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "govsync_run_duration_seconds",
		Help:    "Wall-clock duration of each reconciliation run in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "govsync_runs_in_flight",
		Help: "Number of reconciliation runs currently executing (0 or 1).",
	})

	s.recordsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govsync_records_processed_total",
		Help: "Total number of eligible source records processed.",
	})

	s.recordErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govsync_record_errors_total",
		Help: "Total number of per-entity processing errors.",
	})

	s.ensureOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govsync_ensure_outcomes_total",
		Help: "Downstream record outcomes by automation rule, target type and outcome.",
	}, []string{"automation", "target", "outcome"})

	s.ruleErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govsync_rule_errors_total",
		Help: "Source-list read failures per automation rule.",
	}, []string{"automation"})

	s.register(reg, s.runsStartedTotal, "govsync_runs_started_total")
	s.register(reg, s.runsTotal, "govsync_runs_total")
	s.register(reg, s.runsSkippedTotal, "govsync_runs_skipped_total")
	s.register(reg, s.runDuration, "govsync_run_duration_seconds")
	s.register(reg, s.runsInFlight, "govsync_runs_in_flight")
	s.register(reg, s.recordsProcessedTotal, "govsync_records_processed_total")
	s.register(reg, s.recordErrorsTotal, "govsync_record_errors_total")
	s.register(reg, s.ensureOutcomesTotal, "govsync_ensure_outcomes_total")
	s.register(reg, s.ruleErrorsTotal, "govsync_rule_errors_total")

	return s
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) RunStarted(trigger string) {
	s.runsStartedTotal.WithLabelValues(trigger).Inc()
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunCompleted(status string, duration time.Duration, processed, errors int) {
	s.runsInFlight.Dec()
	s.runDuration.Observe(duration.Seconds())
	s.recordsProcessedTotal.Add(float64(processed))
	s.recordErrorsTotal.Add(float64(errors))
	s.runsTotal.WithLabelValues(status).Inc()
}

func (s *PrometheusSink) RunSkipped() {
	s.runsSkippedTotal.Inc()
}

func (s *PrometheusSink) EnsureOutcome(automation, target, outcome string) {
	s.ensureOutcomesTotal.WithLabelValues(automation, target, outcome).Inc()
}

func (s *PrometheusSink) RuleError(automation string) {
	s.ruleErrorsTotal.WithLabelValues(automation).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
