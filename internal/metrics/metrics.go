// Package metrics provides Prometheus metrics for the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dashboard.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	CeremoniesTotal       *prometheus.CounterVec
	NudgesTotal           *prometheus.CounterVec
	TokenEventsTotal      prometheus.Counter
	BackgroundErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdeck_requests_total",
				Help: "Total HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentdeck_request_duration_seconds",
				Help:    "Request processing duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		CeremoniesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdeck_ceremonies_total",
				Help: "Ceremonies started by kind and result.",
			},
			[]string{"kind", "result"},
		),
		NudgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdeck_nudges_total",
				Help: "Nudge attempts by result.",
			},
			[]string{"result"},
		),
		TokenEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentdeck_token_events_total",
				Help: "Token consumption events recorded through the API.",
			},
		),
		BackgroundErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdeck_background_errors_total",
				Help: "Failures in fire-and-forget work, by stage.",
			},
			[]string{"stage"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.CeremoniesTotal)
	reg.MustRegister(m.NudgesTotal)
	reg.MustRegister(m.TokenEventsTotal)
	reg.MustRegister(m.BackgroundErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordCeremony increments the ceremony counter.
func (m *Metrics) RecordCeremony(kind, result string) {
	m.CeremoniesTotal.WithLabelValues(kind, result).Inc()
}

// RecordNudge increments the nudge counter.
func (m *Metrics) RecordNudge(result string) {
	m.NudgesTotal.WithLabelValues(result).Inc()
}

// BackgroundError counts a logged-and-swallowed failure.
func (m *Metrics) BackgroundError(stage string) {
	m.BackgroundErrorsTotal.WithLabelValues(stage).Inc()
}
