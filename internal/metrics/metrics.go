// Package metrics exposes Prometheus instrumentation for backtest runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder counts backtest outcomes. Each Recorder owns its registry so
// tests and multiple servers in one process do not collide.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	tradesTotal *prometheus.CounterVec
	sharpe      *prometheus.GaugeVec
	accepted    prometheus.Counter
}

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered alongside the backtest metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratlab_backtest_runs_total",
				Help: "Total number of backtest runs by outcome status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stratlab_backtest_run_duration_seconds",
				Help:    "Wall-clock duration of a backtest run in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stratlab_backtest_trades_total",
				Help: "Total number of closed trades across runs by exit reason",
			},
			[]string{"exit_reason"},
		),
		sharpe: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stratlab_backtest_last_sharpe_ratio",
				Help: "Sharpe ratio of the latest successful run per strategy",
			},
			[]string{"strategy"},
		),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratlab_backtest_accepted_total",
			Help: "Total number of runs that passed the acceptance bar",
		}),
	}
}

// Run describes one finished backtest for recording.
type Run struct {
	StrategyID  string
	Status      string
	Duration    time.Duration
	ExitReasons []string
	Sharpe      float64
	Success     bool
	Accepted    bool
}

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(run Run) {
	r.runsTotal.WithLabelValues(run.Status).Inc()
	r.runDuration.WithLabelValues(run.Status).Observe(run.Duration.Seconds())
	for _, reason := range run.ExitReasons {
		r.tradesTotal.WithLabelValues(reason).Inc()
	}
	if run.Success {
		r.sharpe.WithLabelValues(run.StrategyID).Set(run.Sharpe)
	}
	if run.Accepted {
		r.accepted.Inc()
	}
}

// ObserveLookupFailure counts a run that never started because its strategy
// could not be resolved.
func (r *Recorder) ObserveLookupFailure() {
	r.runsTotal.WithLabelValues("not_found").Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
