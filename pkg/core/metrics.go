package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the set of counters the teacher's UnroutedHandler.Metrics
// exposed, renamed for this protocol's five flows instead of tus's
// POST/HEAD/PATCH/GET/DELETE set (there is no GET flow here; content
// serving is an application concern, not the protocol's).
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	BytesReceived    prometheus.Counter
	UploadsCreated   prometheus.Counter
	UploadsCompleted prometheus.Counter
	UploadsTerminated prometheus.Counter
}

// NewMetrics registers a fresh Metrics set against reg. Pass
// prometheus.DefaultRegisterer for the common case.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rufh_requests_total",
			Help: "Total number of resumable-upload requests, by method.",
		}, []string{"method"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rufh_errors_total",
			Help: "Total number of resumable-upload requests that ended in an error, by code.",
		}, []string{"code"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rufh_bytes_received_total",
			Help: "Total number of body bytes admitted across all uploads.",
		}),
		UploadsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rufh_uploads_created_total",
			Help: "Total number of uploads created.",
		}),
		UploadsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rufh_uploads_completed_total",
			Help: "Total number of uploads that reached the complete state.",
		}),
		UploadsTerminated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rufh_uploads_terminated_total",
			Help: "Total number of uploads cancelled by a DELETE request.",
		}),
	}

	reg.MustRegister(m.RequestsTotal, m.ErrorsTotal, m.BytesReceived, m.UploadsCreated, m.UploadsCompleted, m.UploadsTerminated)
	return m
}

func (m *Metrics) observeRequest(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) observeError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}
