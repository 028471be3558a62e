package notify

import "github.com/prometheus/client_golang/prometheus"

// MetricsHookInvocationsTotal and MetricsHookErrorsTotal mirror the
// teacher's hooks.MetricsHookInvocationsTotal/MetricsHookErrorsTotal
// counters (wired from cmd/tusd's metrics.go into the hook handler).
var (
	MetricsHookInvocationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rufh_notify_invocations_total",
		Help: "Total number of notification sink invocations.",
	})
	MetricsHookErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rufh_notify_errors_total",
		Help: "Total number of notification sink invocations that returned an error.",
	})
)

func init() {
	prometheus.MustRegister(MetricsHookInvocationsTotal, MetricsHookErrorsTotal)
}
