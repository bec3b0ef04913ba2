// Package metrics provides Prometheus metrics for the presence service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	SweepRunsTotal      prometheus.Counter
	SweepDuration       prometheus.Histogram
	SweepItemsTotal     *prometheus.CounterVec
	SweepErrorsTotal    *prometheus.CounterVec
	MirrorFailuresTotal prometheus.Counter
	FeedFailuresTotal   prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_events_total",
				Help: "Total presence events handled by event and result.",
			},
			[]string{"event", "result"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_transitions_total",
				Help: "Total presence state changes by previous and next state.",
			},
			[]string{"from", "to"},
		),
		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "presence_sweep_runs_total",
				Help: "Total reconciliation sweeps run.",
			},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "presence_sweep_duration_seconds",
				Help:    "Reconciliation sweep duration.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_sweep_items_total",
				Help: "Total users processed by sweep pass.",
			},
			[]string{"pass"},
		),
		SweepErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presence_sweep_errors_total",
				Help: "Total per-user sweep failures by pass.",
			},
			[]string{"pass"},
		),
		MirrorFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "presence_mirror_failures_total",
				Help: "Total failed writes to the legacy users.status mirror.",
			},
		),
		FeedFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "presence_feed_failures_total",
				Help: "Total change notifications that could not be published.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.SweepRunsTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.SweepItemsTotal)
	reg.MustRegister(m.SweepErrorsTotal)
	reg.MustRegister(m.MirrorFailuresTotal)
	reg.MustRegister(m.FeedFailuresTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent increments the event counter.
func (m *Metrics) RecordEvent(event, result string) {
	m.EventsTotal.WithLabelValues(event, result).Inc()
}

// RecordTransition increments the transition counter. from is "none" for a
// user's first presence row.
func (m *Metrics) RecordTransition(from, to string) {
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveSweep records one finished sweep.
func (m *Metrics) ObserveSweep(seconds float64) {
	m.SweepRunsTotal.Inc()
	m.SweepDuration.Observe(seconds)
}

func (m *Metrics) AddSweepItems(pass string, n int) {
	m.SweepItemsTotal.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) RecordSweepError(pass string) {
	m.SweepErrorsTotal.WithLabelValues(pass).Inc()
}

func (m *Metrics) RecordMirrorFailure() {
	m.MirrorFailuresTotal.Inc()
}

func (m *Metrics) RecordFeedFailure() {
	m.FeedFailuresTotal.Inc()
}
