// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeIncomplete = "incomplete"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	EventsEmitted  prometheus.Counter
	UpstreamErrors prometheus.Counter
	ActiveStreams  prometheus.Gauge
}

// New creates and registers the proxy metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ors_proxy",
			Name:      "requests_total",
			Help:      "Response requests by terminal outcome.",
		}, []string{"outcome"}),
		EventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ors_proxy",
			Name:      "events_emitted_total",
			Help:      "Streaming events written to clients.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ors_proxy",
			Name:      "upstream_errors_total",
			Help:      "Failed upstream chat completion exchanges.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ors_proxy",
			Name:      "active_streams",
			Help:      "Streams currently open to clients.",
		}),
	}
	m.registry.MustRegister(m.Requests, m.EventsEmitted, m.UpstreamErrors, m.ActiveStreams)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
