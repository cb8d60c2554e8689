// Package metrics exposes Prometheus collectors for the showtimes crawler.
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
	requestsTotal              *prometheus.CounterVec
	requestBytesTotal          *prometheus.CounterVec
	retriesTotal               *prometheus.CounterVec
	pagesFollowedTotal         *prometheus.CounterVec
	documentsTotal             *prometheus.CounterVec
	showtimesTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_requests_total",
				Help: "Requests sent by the transport, labeled by site, source and outcome.",
			},
			[]string{"site", "source", "outcome"},
		)

		requestBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_response_bytes_total",
				Help: "Response bytes received, labeled by site.",
			},
			[]string{"site"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_retries_total",
				Help: "Repeated attempts, labeled by scope.",
			},
			[]string{"scope"},
		)

		pagesFollowedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_pages_followed_total",
				Help: "Next-page links followed, labeled by resource.",
			},
			[]string{"resource"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_documents_total",
				Help: "Result documents written, labeled by writer and status.",
			},
			[]string{"writer", "status"},
		)

		showtimesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showtimes_showtimes_total",
				Help: "Showtimes emitted, labeled by crawler id.",
			},
			[]string{"crawler"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "showtimes_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from rawURL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts a transport request. source is "network", "cache" or "replay".
func ObserveRequest(rawURL, source, outcome string, bytes int) {
	Init()
	site := SanitizeSite(rawURL)
	requestsTotal.WithLabelValues(site, source, outcome).Inc()
	if bytes > 0 {
		requestBytesTotal.WithLabelValues(site).Add(float64(bytes))
	}
}

// ObserveRetry counts a repeated attempt.
func ObserveRetry(scope string) {
	Init()
	retriesTotal.WithLabelValues(scope).Inc()
}

// ObservePageFollowed counts a pagination hop.
func ObservePageFollowed(resource string) {
	Init()
	pagesFollowedTotal.WithLabelValues(resource).Inc()
}

// ObserveDocument counts a written (or failed) result document.
func ObserveDocument(writer, status string) {
	Init()
	documentsTotal.WithLabelValues(writer, status).Inc()
}

// ObserveShowtimes adds n showtimes for crawlerID.
func ObserveShowtimes(crawlerID string, n int) {
	Init()
	showtimesTotal.WithLabelValues(crawlerID).Add(float64(n))
}

// ObserveRateLimitDelay records a limiter wait.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest records a status API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
