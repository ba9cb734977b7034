// Package metrics exports engine telemetry. The API process serves
// Prometheus; the maintenance Lambdas, which have no scrape endpoint, push
// run summaries to CloudWatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parking/internal/types"
)

// Collector implements core.MetricsCollector and types.LifecycleRecorder on
// a private registry.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	paymentOutcomes *prometheus.CounterVec
}

// NewCollector registers the engine metrics plus the Go and process
// collectors under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "parking"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "API request latency by route and status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "API requests by route and status",
			},
			[]string{"method", "endpoint", "status"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Committed lifecycle transitions by event type",
			},
			[]string{"event"},
		),
		publishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "publish_failures_total",
				Help:      "Lifecycle events that committed but could not be published",
			},
			[]string{"event"},
		),
		paymentOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payments",
				Name:      "outcomes_total",
				Help:      "Payment outcome callbacks by status and whether they changed state",
			},
			[]string{"status", "changed"},
		),
	}

	c.registry.MustRegister(
		c.requestDuration,
		c.requestTotal,
		c.transitions,
		c.publishFailures,
		c.paymentOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RecordRequest implements core.MetricsCollector.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
	c.requestTotal.WithLabelValues(method, endpoint, status).Inc()
}

// RecordTransition implements types.LifecycleRecorder.
func (c *Collector) RecordTransition(evt types.EventType) {
	c.transitions.WithLabelValues(string(evt)).Inc()
}

// RecordPublishFailure implements types.LifecycleRecorder.
func (c *Collector) RecordPublishFailure(evt types.EventType) {
	c.publishFailures.WithLabelValues(string(evt)).Inc()
}

// RecordPaymentOutcome counts one processed payment callback.
func (c *Collector) RecordPaymentOutcome(status types.PaymentStatus, changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	c.paymentOutcomes.WithLabelValues(string(status), label).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
