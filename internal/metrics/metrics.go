// Package metrics provides Prometheus metrics for the gateway: HTTP traffic,
// upstream provider calls, rate-limit admissions, and configuration reloads.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream provider metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamTokensTotal     *prometheus.CounterVec
	UpstreamCostDollars     *prometheus.CounterVec
	PricingUnknownTotal     *prometheus.CounterVec

	// Admission metrics
	AdmissionRejectedTotal *prometheus.CounterVec
	RoutedRequestsTotal    *prometheus.CounterVec

	// Configuration metrics
	ConfigReloadsTotal  *prometheus.CounterVec
	ProvidersConfigured prometheus.Gauge

	// System metrics
	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status class",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	m.UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream provider calls by provider, model, and status",
		},
		[]string{"provider", "model", "status"},
	)

	m.UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelgate",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream provider call duration in seconds",
			Buckets:   []float64{.5, 1, 2, 3, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	m.UpstreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "upstream",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by provider, model, and direction",
		},
		[]string{"provider", "model", "token_type"},
	)

	m.UpstreamCostDollars = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "upstream",
			Name:      "cost_dollars",
			Help:      "Total upstream spend in dollars by provider and model",
		},
		[]string{"provider", "model"},
	)

	m.PricingUnknownTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "upstream",
			Name:      "pricing_unknown_total",
			Help:      "Calls whose cost could not be computed because pricing is unknown",
		},
		[]string{"provider", "model"},
	)

	m.AdmissionRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "router",
			Name:      "admission_rejected_total",
			Help:      "Requests where all candidate providers were over budget",
		},
		[]string{"model"},
	)

	m.RoutedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "router",
			Name:      "routed_total",
			Help:      "Requests routed by chosen provider and tier (free or paid)",
		},
		[]string{"provider", "tier"},
	)

	m.ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelgate",
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Configuration reloads by outcome",
		},
		[]string{"status"},
	)

	m.ProvidersConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "config",
			Name:      "providers",
			Help:      "Number of currently configured providers",
		},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelgate",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, statusCodeToLabel(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordUpstreamCall records one upstream provider call with its usage.
func (m *Metrics) RecordUpstreamCall(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, costUSD float64) {
	m.UpstreamRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.UpstreamTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	m.UpstreamTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	m.UpstreamCostDollars.WithLabelValues(provider, model).Add(costUSD)
}

// RecordPricingUnknown flags a call billed at zero because pricing was absent.
func (m *Metrics) RecordPricingUnknown(provider, model string) {
	m.PricingUnknownTotal.WithLabelValues(provider, model).Inc()
}

// RecordConfigReload records a reload attempt.
func (m *Metrics) RecordConfigReload(ok bool, providers int) {
	if ok {
		m.ConfigReloadsTotal.WithLabelValues("success").Inc()
		m.ProvidersConfigured.Set(float64(providers))
	} else {
		m.ConfigReloadsTotal.WithLabelValues("error").Inc()
	}
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
