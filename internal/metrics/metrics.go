// Package metrics exposes Prometheus instruments for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
//
// Metrics:
//   - assistant_runs_total{status}
//   - assistant_stage_duration_seconds{stage}
//   - assistant_loop_iterations
//   - assistant_collaborator_failures_total{stage}
//   - assistant_active_runs
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	LoopIterations       prometheus.Histogram
	CollaboratorFailures *prometheus.CounterVec
	ActiveRuns           prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the metrics with reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_runs_total",
				Help: "Total pipeline runs by final status",
			},
			[]string{"status"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assistant_stage_duration_seconds",
				Help:    "Stage execution time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		LoopIterations: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "assistant_loop_iterations",
				Help:    "Producer passes per finished run",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13},
			},
		),
		CollaboratorFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assistant_collaborator_failures_total",
				Help: "Failed language-model or executor calls by stage",
			},
			[]string{"stage"},
		),
		ActiveRuns: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "assistant_active_runs",
				Help: "Runs currently executing",
			},
		),
		gatherer: reg,
	}
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

func (m *Metrics) RunFinished(status string, iterations int) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
	m.LoopIterations.Observe(float64(iterations))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) CollaboratorFailure(stage string) {
	if m == nil {
		return
	}
	m.CollaboratorFailures.WithLabelValues(stage).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
