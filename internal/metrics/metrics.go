// Package metrics exposes delivery counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/mailform/internal/apperr"
)

const namespace = "mailform"

// Delivery outcomes recorded in mailform_deliveries_total.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	deliveries     *prometheus.CounterVec
	errors         *prometheus.CounterVec
	renderDuration prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery requests by template and outcome.",
		}, []string{"template", "status"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed requests by error kind.",
		}, []string{"kind"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent compiling MJML to HTML.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.deliveries,
		m.errors,
		m.renderDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Delivered(template string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(template, StatusSent).Inc()
}

// Failed records a failed request and the kind of its error.
func (m *Metrics) Failed(template string, kind apperr.Kind) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(template, StatusFailed).Inc()
	m.errors.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
}
