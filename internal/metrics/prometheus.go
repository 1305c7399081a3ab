// Package metrics exposes engine activity as Prometheus collectors. All
// recording functions are no-ops until InitPrometheus is called.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the collectors for the engine.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Cache
	cacheReads    *prometheus.CounterVec
	cacheLoads    *prometheus.CounterVec
	cacheDiscards *prometheus.CounterVec
	cacheLoadTime  *prometheus.HistogramVec

	// Mutations
	mutationsTotal   *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	rollbacksTotal   *prometheus.CounterVec
	invalidations    *prometheus.CounterVec

	// Pickup
	pickupResults *prometheus.CounterVec

	// Resource client
	clientRequests *prometheus.CounterVec
	clientLatency  *prometheus.HistogramVec
	breakerState   *prometheus.GaugeVec

	uptime prometheus.GaugeFunc
}

// Default histogram buckets in milliseconds.
var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var (
	promMetrics *PrometheusMetrics
	startTime   = time.Now()
)

// StartTime returns when the process started recording.
func StartTime() time.Time {
	return startTime
}

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		cacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_reads_total",
				Help:      "Cache reads by key and result (hit, stale, miss)",
			},
			[]string{"key", "result"},
		),
		cacheLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_loads_total",
				Help:      "Loader invocations by key and outcome",
			},
			[]string{"key", "outcome"},
		),
		cacheDiscards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_load_discards_total",
				Help:      "Load results dropped because a newer value was already applied",
			},
			[]string{"key"},
		),
		cacheLoadTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_load_duration_milliseconds",
				Help:      "Duration of cache loads in milliseconds",
				Buckets:   buckets,
			},
			[]string{"key"},
		),

		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Mutations by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		mutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_milliseconds",
				Help:      "Duration of mutations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		rollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "optimistic_rollbacks_total",
				Help:      "Optimistic updates rolled back after a failed mutation",
			},
			[]string{"kind"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Cache keys invalidated by successful mutations",
			},
			[]string{"kind", "key"},
		),

		pickupResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pickup_verifications_total",
				Help:      "Pickup verification attempts by entry path and result",
			},
			[]string{"path", "result"},
		),

		clientRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_requests_total",
				Help:      "Backend requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		clientLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "client_request_duration_milliseconds",
				Help:      "Backend request latency in milliseconds",
				Buckets:   buckets,
			},
			[]string{"endpoint"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "client_breaker_state",
				Help:      "Circuit breaker state per endpoint (0=closed, 1=open, 2=half_open)",
			},
			[]string{"endpoint"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the engine started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.cacheReads,
		pm.cacheLoads,
		pm.cacheDiscards,
		pm.cacheLoadTime,
		pm.mutationsTotal,
		pm.mutationDuration,
		pm.rollbacksTotal,
		pm.invalidations,
		pm.pickupResults,
		pm.clientRequests,
		pm.clientLatency,
		pm.breakerState,
		pm.uptime,
	)

	promMetrics = pm
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordCacheRead records a cache read result: "hit", "stale" or "miss".
func RecordCacheRead(key, result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheReads.WithLabelValues(key, result).Inc()
}

// RecordCacheLoad records a finished loader invocation.
func RecordCacheLoad(key, outcome string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheLoads.WithLabelValues(key, outcome).Inc()
	promMetrics.cacheLoadTime.WithLabelValues(key).Observe(ms(d))
}

// RecordCacheDiscard records a load result dropped as out of date.
func RecordCacheDiscard(key string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheDiscards.WithLabelValues(key).Inc()
}

// RecordMutation records a mutation outcome ("success" or a failure kind).
func RecordMutation(kind, outcome string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.mutationsTotal.WithLabelValues(kind, outcome).Inc()
	promMetrics.mutationDuration.WithLabelValues(kind).Observe(ms(d))
}

// RecordRollback records an optimistic update being rolled back.
func RecordRollback(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.rollbacksTotal.WithLabelValues(kind).Inc()
}

// RecordInvalidation records a key invalidated after a mutation.
func RecordInvalidation(kind, key string) {
	if promMetrics == nil {
		return
	}
	promMetrics.invalidations.WithLabelValues(kind, key).Inc()
}

// RecordPickupVerification records a pickup attempt. path is "scan" or
// "manual"; result is "completed" or the failure kind.
func RecordPickupVerification(path, result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.pickupResults.WithLabelValues(path, result).Inc()
}

// RecordClientRequest records a backend request.
func RecordClientRequest(endpoint, outcome string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.clientRequests.WithLabelValues(endpoint, outcome).Inc()
	promMetrics.clientLatency.WithLabelValues(endpoint).Observe(ms(d))
}

// SetBreakerState sets the breaker state gauge for an endpoint.
// state: 0=closed, 1=open, 2=half_open
func SetBreakerState(endpoint string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.breakerState.WithLabelValues(endpoint).Set(float64(state))
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the registry, or nil before InitPrometheus.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
