// Package metrics exposes Prometheus collectors for the fetch layer.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal           *prometheus.CounterVec
	fetchDurationSeconds *prometheus.HistogramVec
	fetchBytesTotal      *prometheus.CounterVec
	poolDialsTotal       *prometheus.CounterVec
	poolBorrowsTotal     *prometheus.CounterVec
	poolDiscardsTotal    *prometheus.CounterVec
	poolOpenConnections  *prometheus.GaugeVec
	spoolTotal           *prometheus.CounterVec
	dialDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_fetch_total",
				Help: "Total number of fetches, labeled by protocol, site and outcome.",
			},
			[]string{"protocol", "site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remotefetch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by protocol.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"protocol"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_bytes_total",
				Help: "Total number of content bytes fetched, labeled by protocol and site.",
			},
			[]string{"protocol", "site"},
		)

		poolDialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_pool_dials_total",
				Help: "Connection attempts made by the pools, labeled by protocol and result.",
			},
			[]string{"protocol", "result"},
		)

		poolBorrowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_pool_borrows_total",
				Help: "Connections handed out, labeled by protocol and source (reused or dialed).",
			},
			[]string{"protocol", "source"},
		)

		poolDiscardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_pool_discards_total",
				Help: "Connections disconnected instead of pooled, labeled by protocol and reason.",
			},
			[]string{"protocol", "reason"},
		)

		poolOpenConnections = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "remotefetch_pool_open_connections",
				Help: "Connections currently open (idle or borrowed), labeled by protocol.",
			},
			[]string{"protocol"},
		)

		spoolTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remotefetch_spool_total",
				Help: "Bodies materialized, labeled by storage (memory or file).",
			},
			[]string{"storage"},
		)

		dialDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remotefetch_dial_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting on the per-host dial limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL of any scheme.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "unknown://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records the outcome and latency of a fetch.
func ObserveFetch(protocol, site, outcome string, duration time.Duration, bytesFetched int64) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(protocol, sanitizedSite, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(protocol).Observe(duration.Seconds())
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(protocol, sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveDial records a connection attempt.
func ObserveDial(protocol string, ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	poolDialsTotal.WithLabelValues(protocol, result).Inc()
}

// ObserveBorrow records where a borrowed connection came from.
func ObserveBorrow(protocol string, reused bool) {
	Init()
	source := "dialed"
	if reused {
		source = "reused"
	}
	poolBorrowsTotal.WithLabelValues(protocol, source).Inc()
}

// ObserveDiscard records a connection that was disconnected instead of pooled.
func ObserveDiscard(protocol, reason string) {
	Init()
	poolDiscardsTotal.WithLabelValues(protocol, reason).Inc()
}

// IncOpenConnections increments the open connections gauge.
func IncOpenConnections(protocol string) {
	Init()
	poolOpenConnections.WithLabelValues(protocol).Inc()
}

// DecOpenConnections decrements the open connections gauge.
func DecOpenConnections(protocol string) {
	Init()
	poolOpenConnections.WithLabelValues(protocol).Dec()
}

// ObserveSpool records whether a body stayed in memory or went to a file.
func ObserveSpool(inMemory bool) {
	Init()
	storage := "file"
	if inMemory {
		storage = "memory"
	}
	spoolTotal.WithLabelValues(storage).Inc()
}

// ObserveDialDelay records the duration of a dial limiter wait.
func ObserveDialDelay(host string, duration time.Duration) {
	Init()
	dialDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
