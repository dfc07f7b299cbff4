// Package metrics exposes process-wide Prometheus collectors for the API and
// the upstream client. Run-level metrics live in the progress Prometheus sink.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamWaitSeconds        prometheus.Histogram

	once sync.Once

	quotaMu     sync.RWMutex
	quotaSource func() (used, limit int)
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankcrawl_upstream_requests_total",
				Help: "Upstream requests labeled by content type and result.",
			},
			[]string{"content_type", "result"},
		)

		upstreamWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rankcrawl_upstream_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the upstream token bucket.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "rankcrawl_quota_used",
				Help: "Upstream requests counted against today's quota.",
			},
			func() float64 {
				used, _ := quotaUsage()
				return float64(used)
			},
		)

		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "rankcrawl_quota_limit",
				Help: "Daily request limit; 0 means unlimited.",
			},
			func() float64 {
				_, limit := quotaUsage()
				return float64(limit)
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetQuotaSource registers the function read by the quota gauges.
func SetQuotaSource(fn func() (used, limit int)) {
	quotaMu.Lock()
	defer quotaMu.Unlock()
	quotaSource = fn
}

func quotaUsage() (int, int) {
	quotaMu.RLock()
	defer quotaMu.RUnlock()
	if quotaSource == nil {
		return 0, 0
	}
	return quotaSource()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream counts one upstream request; result is "ok", "empty" or "error".
func ObserveUpstream(contentType, result string) {
	Init()
	upstreamRequestsTotal.WithLabelValues(contentType, result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	upstreamWaitSeconds.Observe(duration.Seconds())
}
