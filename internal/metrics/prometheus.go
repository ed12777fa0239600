package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ouilookup"

// PrometheusHooks implements QueryHook, RefreshHook and RequestHook on a dedicated Prometheus
// registry, which is exposed over HTTP by Handler.
type PrometheusHooks struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	notReady       prometheus.Counter
	refreshes      *prometheus.CounterVec
	refreshErrors  *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
	tierEntries    *prometheus.GaugeVec
	responses      *prometheus.CounterVec
	responseTiming prometheus.Histogram
}

// NewPrometheusHooks creates the collectors and registers them, together with the Go runtime and
// process collectors, on a fresh registry.
func NewPrometheusHooks(version string) *PrometheusHooks {
	constLabels := prometheus.Labels{}
	if version != "" {
		constLabels["version"] = version
	}

	h := &PrometheusHooks{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queries_total",
			Help:        "Resolved queries by dispatch path and whether anything matched.",
			ConstLabels: constLabels,
		}, []string{"kind", "matched"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "query_duration_seconds",
			Help:        "In-memory resolution latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"kind"}),
		notReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queries_not_ready_total",
			Help:        "Queries rejected while the registry was initializing.",
			ConstLabels: constLabels,
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "refreshes_total",
			Help:        "Successful registry refreshes by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		refreshErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "refresh_errors_total",
			Help:        "Failed registry refreshes by source.",
			ConstLabels: constLabels,
		}, []string{"source"}),
		refreshLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "refresh_duration_seconds",
			Help:        "Duration of successful registry refreshes.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source"}),
		tierEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "registry_entries",
			Help:        "Entries in the live snapshot by tier.",
			ConstLabels: constLabels,
		}, []string{"tier"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_responses_total",
			Help:        "HTTP responses by status code.",
			ConstLabels: constLabels,
		}, []string{"code"}),
		responseTiming: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_response_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	h.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		h.queries,
		h.queryLatency,
		h.notReady,
		h.refreshes,
		h.refreshErrors,
		h.refreshLatency,
		h.tierEntries,
		h.responses,
		h.responseTiming,
	)

	return h
}

// Registry exposes the underlying registry, mainly for tests.
func (h *PrometheusHooks) Registry() *prometheus.Registry {
	return h.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (h *PrometheusHooks) Handler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

// EmitQuery Prometheus implementation
func (h *PrometheusHooks) EmitQuery(kind string, matches int, latency time.Duration) {
	h.queries.WithLabelValues(kind, strconv.FormatBool(matches > 0)).Inc()
	h.queryLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// EmitNotReady Prometheus implementation
func (h *PrometheusHooks) EmitNotReady() {
	h.notReady.Inc()
}

// EmitRefresh Prometheus implementation
func (h *PrometheusHooks) EmitRefresh(source string, latency time.Duration) {
	h.refreshes.WithLabelValues(source).Inc()
	h.refreshLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// EmitRefreshError Prometheus implementation
func (h *PrometheusHooks) EmitRefreshError(source string) {
	h.refreshErrors.WithLabelValues(source).Inc()
}

// EmitTierSize Prometheus implementation
func (h *PrometheusHooks) EmitTierSize(tier string, entries int) {
	h.tierEntries.WithLabelValues(tier).Set(float64(entries))
}

// EmitResponse Prometheus implementation
func (h *PrometheusHooks) EmitResponse(code int, latency time.Duration) {
	h.responses.WithLabelValues(strconv.Itoa(code)).Inc()
	h.responseTiming.Observe(latency.Seconds())
}
