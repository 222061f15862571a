package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_RowsWritten(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.RowsWritten("aggregate", "created", 3)
	m.RowsWritten("aggregate", "created", 2)
	m.RowsWritten("aggregate", "updated", 0)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.rowsWritten.WithLabelValues("aggregate", "created")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rowsWritten), "zero counts do not create a series")
}

func TestPrometheusMetrics_Chunks(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.ChunkRetried("rank")
	m.ChunkRetried("rank")
	m.ChunkAborted("rank")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.chunkRetries.WithLabelValues("rank")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chunkAborts.WithLabelValues("rank")))
}

func TestPrometheusMetrics_StepCompleted(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.StepCompleted("finalize", "ok", 2*time.Second)
	m.StepCompleted("finalize", "error", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepTotal.WithLabelValues("finalize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepTotal.WithLabelValues("finalize", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepTotal))
	assert.Positive(t, testutil.ToFloat64(m.lastCompleted.WithLabelValues("finalize")))
}

func TestNewPrometheusMetrics_SeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewPrometheusMetrics(prometheus.NewRegistry())
		NewPrometheusMetrics(prometheus.NewRegistry())
	})
}
