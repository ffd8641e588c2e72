package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaliph/qrbridge/models"
)

// Metrics holds the bridge collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	attempts      prometheus.Histogram
	requests      *prometheus.CounterVec
	inFlight      prometheus.Gauge
	imageBytes    prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrbridge",
			Name:      "cycles_total",
			Help:      "Capture cycles executed, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrbridge",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a capture cycle.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 20, 30, 60},
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrbridge",
			Name:      "decode_attempts",
			Help:      "Screenshots taken before a cycle ended.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrbridge",
			Name:      "qr_requests_total",
			Help:      "QR image requests, by result.",
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrbridge",
			Name:      "cycle_in_flight",
			Help:      "1 while a capture cycle is running.",
		}),
		imageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrbridge",
			Name:      "last_image_bytes",
			Help:      "Size of the most recently produced image.",
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.attempts, m.requests, m.inFlight, m.imageBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished capture cycle
func (m *Metrics) ObserveCycle(outcome models.Outcome, d time.Duration, attempts, imageBytes int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(outcome)).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.attempts.Observe(float64(attempts))
	m.imageBytes.Set(float64(imageBytes))
}

// Request counts a QR request as "hit", "miss", "forbidden" or "error"
func (m *Metrics) Request(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

// SetInFlight flips the in-flight gauge
func (m *Metrics) SetInFlight(running bool) {
	if m == nil {
		return
	}
	if running {
		m.inFlight.Set(1)
		return
	}
	m.inFlight.Set(0)
}
