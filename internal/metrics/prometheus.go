package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromMetrics holds the Prometheus mirror of the collector counters. The
// registry is private so repeated construction (tests, restarts) never hits
// duplicate-registration panics on the global default.
type PromMetrics struct {
	registry *prometheus.Registry

	EventsDetected     *prometheus.CounterVec
	ScannerErrors      *prometheus.CounterVec
	EventsPublished    prometheus.Counter
	EventsDeduplicated prometheus.Counter
	PublishFailures    prometheus.Counter
	EventConfidence    prometheus.Histogram
}

// NewPromMetrics creates and registers all Prometheus metrics.
func NewPromMetrics() *PromMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PromMetrics{
		registry: registry,

		EventsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightdoom_events_detected_total",
				Help: "Bankruptcy events accepted onto the bus, by source",
			},
			[]string{"source"},
		),

		ScannerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "freightdoom_scanner_errors_total",
				Help: "Poll failures counted against the circuit breaker, by source",
			},
			[]string{"source"},
		),

		EventsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "freightdoom_events_published_total",
				Help: "Events delivered to the broker channel",
			},
		),

		EventsDeduplicated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "freightdoom_events_deduplicated_total",
				Help: "Events suppressed as duplicates",
			},
		),

		PublishFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "freightdoom_publish_failures_total",
				Help: "Events that failed to publish to the broker",
			},
		),

		EventConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "freightdoom_event_confidence",
				Help:    "Confidence score of detected events",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
	}
}

// RegisterGaugeFunc exposes a live value (bus depth, breaker trips, bloom
// rotations) whose source of truth lives in another component.
func (m *PromMetrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// Handler serves the registry in the Prometheus text format.
func (m *PromMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
