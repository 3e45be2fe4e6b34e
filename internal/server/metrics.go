package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/dora"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics holds the Prometheus collectors of the API. It also records every
// computed classification, so it is handed to the deployment service as its
// Recorder.
type Metrics struct {
	registry        *prometheus.Registry
	requestTotal    *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	rateLimitHits   *prometheus.CounterVec
	classifications *prometheus.CounterVec
}

var _ deployment.Recorder = (*Metrics)(nil)

// NewMetrics registers the API collectors with reg. A nil reg gets a fresh
// registry carrying the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploymetrics",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploymetrics",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploymetrics",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"limiter"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploymetrics",
			Name:      "classifications_total",
			Help:      "Computed DORA classifications by metric and tier",
		}, []string{"metric", "tier"}),
	}

	m.requestTotal = register(reg, m.requestTotal)
	m.requestLatency = register(reg, m.requestLatency)
	m.rateLimitHits = register(reg, m.rateLimitHits)
	m.classifications = register(reg, m.classifications)

	return m
}

// register adds c to reg, reusing an identical collector registered earlier
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveClassification implements deployment.Recorder
func (m *Metrics) ObserveClassification(metric string, tier dora.Tier) {
	m.classifications.With(prometheus.Labels{"metric": metric, "tier": tier.String()}).Inc()
}

func (m *Metrics) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) recordRateLimitHit(limiter string) {
	m.rateLimitHits.With(prometheus.Labels{"limiter": limiter}).Inc()
}
