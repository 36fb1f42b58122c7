// Package observability holds the domain metrics of the tiler.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of calls to metadata, style validator and renderer.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "result"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Shared store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of shared store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layergroup_submissions_total",
			Help: "Layergroup submissions by outcome.",
		},
		[]string{"outcome"},
	)

	styleCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "style_cache_results_total",
			Help: "In-process style record cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	usageIncrements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_increments_total",
			Help: "Usage counter increments by series kind.",
		},
		[]string{"series"},
	)

	channelAnnouncements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_announcements_total",
			Help: "Cache channel announcements by result.",
		},
		[]string{"result"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layergroup_evictions_total",
			Help: "Layergroup eviction events by result.",
		},
		[]string{"result"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		storeOpTotal, storeOpDurationSeconds, submissionsTotal, styleCacheResults,
		usageIncrements, channelAnnouncements, evictionsTotal, kafkaConsumerErrors,
		buildInfo,
	}
}

func init() {
	Init(prometheus.DefaultRegisterer)
}

// Init registers the domain metrics with reg. Registering twice with the
// same registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstream(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, result(err)).Observe(durationSeconds)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	storeOpTotal.WithLabelValues(op, result(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

// outcome: created, reused, invalid, denied, not_found, error
func IncSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

func IncStyleCache(hit bool) {
	if hit {
		styleCacheResults.WithLabelValues("hit").Inc()
		return
	}
	styleCacheResults.WithLabelValues("miss").Inc()
}

func IncUsage(series string) {
	usageIncrements.WithLabelValues(series).Inc()
}

// result: queued, dropped, deduped, error
func IncAnnouncement(result string) {
	channelAnnouncements.WithLabelValues(result).Inc()
}

func IncEviction(result string) {
	evictionsTotal.WithLabelValues(result).Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
