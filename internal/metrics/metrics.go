// Package metrics exposes Prometheus instrumentation for the pollers, the
// detector and the action orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service registers. Constructed once in
// main and passed to the components that record into it.
type Metrics struct {
	PollTicks     *prometheus.CounterVec // completed poll ticks per loop
	PollErrors    *prometheus.CounterVec // failed poll ticks per loop
	PollSkips     *prometheus.CounterVec // ticks skipped because the previous one was in flight
	Notifications prometheus.Counter
	Actions       *prometheus.CounterVec // power actions by kind and outcome
	ActionSeconds prometheus.Histogram   // submit-to-terminal duration
	BaselineSize  prometheus.Gauge
}

// New registers all collectors on the given registerer. Tests pass a private
// registry; main passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PollTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvewatch_poll_ticks_total",
			Help: "Completed poll ticks, by loop.",
		}, []string{"loop"}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvewatch_poll_errors_total",
			Help: "Poll ticks that failed, by loop.",
		}, []string{"loop"}),
		PollSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvewatch_poll_skips_total",
			Help: "Ticks skipped because the previous poll was still in flight.",
		}, []string{"loop"}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "pvewatch_notifications_total",
			Help: "State-change notifications emitted.",
		}),
		Actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pvewatch_actions_total",
			Help: "Power actions performed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ActionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pvewatch_action_duration_seconds",
			Help:    "Duration from action submission to terminal task state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		BaselineSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pvewatch_baseline_records",
			Help: "Guest records currently held in the state baseline.",
		}),
	}
}
