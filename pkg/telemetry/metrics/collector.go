// Package metrics exposes the gateway's operational state as Prometheus
// metrics, registered on their own registry at an internal path distinct
// from the required JSON GET /metrics (pkg/proxy/handlers.MetricsHandler).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ember-gateway/ember/pkg/registry"
)

const namespace = "ember"

// ModelCollector is a prometheus.Collector that reads the registry's live
// snapshot on every scrape rather than being updated eagerly on every
// state change. This keeps pkg/registry and pkg/lifecycle free of any
// Prometheus dependency: the collector is the only thing that knows
// metrics exist.
type ModelCollector struct {
	registry *registry.Registry

	state         *prometheus.Desc
	queueDepth    *prometheus.Desc
	requestCount  *prometheus.Desc
	failureStreak *prometheus.Desc
	uptime        *prometheus.Desc
}

// NewModelCollector creates a ModelCollector bound to reg.
func NewModelCollector(reg *registry.Registry) *ModelCollector {
	labels := []string{"model", "resource_group"}
	return &ModelCollector{
		registry: reg,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "model", "state"),
			"Current lifecycle state of a model, one gauge per (model, state) pair set to 1 for the active state.",
			append(append([]string{}, labels...), "state"), nil,
		),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "model", "queue_depth"),
			"Current number of requests queued for a model.",
			labels, nil,
		),
		requestCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "model", "request_count_total"),
			"Total number of requests forwarded to a model since its registry entry was created; stops and restarts do not reset it.",
			labels, nil,
		),
		failureStreak: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "model", "failure_streak"),
			"Current consecutive backend transport failure count for a model.",
			labels, nil,
		),
		uptime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "model", "uptime_seconds"),
			"Seconds since a model last became READY; 0 if not running.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ModelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.queueDepth
	ch <- c.requestCount
	ch <- c.failureStreak
	ch <- c.uptime
}

// Collect implements prometheus.Collector.
func (c *ModelCollector) Collect(ch chan<- prometheus.Metric) {
	for name, snap := range c.registry.Snapshot() {
		group := snap.Config.ResourceGroup

		for _, s := range []registry.State{
			registry.StateStopped, registry.StateStarting, registry.StateReady,
			registry.StateStopping, registry.StateReloading, registry.StateFailed,
		} {
			var v float64
			if s == snap.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, name, group, string(s))
		}

		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(snap.QueueDepth), name, group)
		ch <- prometheus.MustNewConstMetric(c.requestCount, prometheus.CounterValue, float64(snap.RequestCount), name, group)
		ch <- prometheus.MustNewConstMetric(c.failureStreak, prometheus.GaugeValue, float64(snap.FailureStreak), name, group)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.Uptime().Seconds(), name, group)
	}
}

// RequestMetrics are the counters and histograms the Proxy Forwarder
// updates directly, one value per completed request, as opposed to the
// ModelCollector's scrape-time snapshot of registry state.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	admissionDenied prometheus.Counter
}

// NewRequestMetrics creates and registers RequestMetrics on reg.
func NewRequestMetrics(reg *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "total",
			Help:      "Total number of client requests forwarded, labeled by model and outcome.",
		}, []string{"model", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "End-to-end request latency including any queue wait, by model.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		admissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request",
			Name:      "admission_denied_total",
			Help:      "Total number of requests rejected before reaching a model (admission hook or capacity).",
		}),
	}
	reg.MustRegister(rm.requestsTotal, rm.requestDuration, rm.admissionDenied)
	return rm
}

// ObserveRequest records one completed forward: status is the HTTP status
// code ultimately written to the client.
func (rm *RequestMetrics) ObserveRequest(model string, status int, durationSeconds float64) {
	rm.requestsTotal.WithLabelValues(model, statusClass(status)).Inc()
	rm.requestDuration.WithLabelValues(model).Observe(durationSeconds)
}

// ObserveAdmissionDenied records one request rejected before model
// resolution.
func (rm *RequestMetrics) ObserveAdmissionDenied() {
	rm.admissionDenied.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// Registry bundles the Prometheus registry and the two collector styles
// above into one value the server wires in and exposes at a single path.
type Registry struct {
	prom    *prometheus.Registry
	Request *RequestMetrics
}

// New builds a Registry, registering a ModelCollector bound to reg and a
// fresh set of RequestMetrics.
func New(reg *registry.Registry) *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(NewModelCollector(reg))
	return &Registry{prom: prom, Request: NewRequestMetrics(prom)}
}

// Handler returns the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
