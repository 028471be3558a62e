package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserveRequestIncrementsByMethod(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeRequest("POST")
	m.observeRequest("POST")
	m.observeRequest("HEAD")

	assert.Equal(t, float64(2), counterValue(t, m.RequestsTotal.WithLabelValues("POST")))
	assert.Equal(t, float64(1), counterValue(t, m.RequestsTotal.WithLabelValues("HEAD")))
}

func TestMetricsObserveErrorIncrementsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observeError(ErrOffsetMismatch.Code)

	assert.Equal(t, float64(1), counterValue(t, m.ErrorsTotal.WithLabelValues(ErrOffsetMismatch.Code)))
}

func TestNilMetricsIsSafeToObserve(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observeRequest("POST")
		m.observeError("ERR_X")
	})
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
