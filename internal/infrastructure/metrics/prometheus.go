// Package metrics exposes batch activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hirohiroko250/autograder-system/internal/application/command"
)

const namespace = "scores"

// PrometheusMetrics implements command.Metrics.
type PrometheusMetrics struct {
	rowsWritten   *prometheus.CounterVec
	chunkRetries  *prometheus.CounterVec
	chunkAborts   *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepTotal     *prometheus.CounterVec
	lastCompleted *prometheus.GaugeVec
}

var _ command.Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the batch collectors in reg. A nil reg
// uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		rowsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Aggregate result rows processed by batch steps, by outcome.",
			},
			[]string{"step", "outcome"},
		),
		chunkRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunk_retries_total",
				Help:      "Chunk writes retried after lock contention.",
			},
			[]string{"step"},
		),
		chunkAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunk_aborts_total",
				Help:      "Chunk writes that aborted their step.",
			},
			[]string{"step"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of one batch step on one test.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"step"},
		),
		stepTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Batch steps run, by status (ok, noop, error).",
			},
			[]string{"step", "status"},
		),
		lastCompleted: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "step_last_success_timestamp_seconds",
				Help:      "Unix time of the last step that did not fail.",
			},
			[]string{"step"},
		),
	}
}

// RowsWritten implements command.Metrics.
func (m *PrometheusMetrics) RowsWritten(step, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.rowsWritten.WithLabelValues(step, outcome).Add(float64(n))
}

// ChunkRetried implements command.Metrics.
func (m *PrometheusMetrics) ChunkRetried(step string) {
	m.chunkRetries.WithLabelValues(step).Inc()
}

// ChunkAborted implements command.Metrics.
func (m *PrometheusMetrics) ChunkAborted(step string) {
	m.chunkAborts.WithLabelValues(step).Inc()
}

// StepCompleted implements command.Metrics.
func (m *PrometheusMetrics) StepCompleted(step, status string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	m.stepTotal.WithLabelValues(step, status).Inc()
	if status != "error" {
		m.lastCompleted.WithLabelValues(step).SetToCurrentTime()
	}
}
