// Package metrics exposes Prometheus collectors for the release watcher.
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
	pagesCrawledTotal          *prometheus.CounterVec
	itemsUpsertedTotal         prometheus.Counter
	feedEntriesTotal           *prometheus.CounterVec
	episodesDetectedTotal      prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	cycleDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasewatch_pages_crawled_total",
				Help: "Listing pages fetched by the catalog crawler, labeled by status.",
			},
			[]string{"status"},
		)

		itemsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "releasewatch_items_upserted_total",
				Help: "Catalog items written to the store.",
			},
		)

		feedEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasewatch_feed_entries_total",
				Help: "Feed entries seen by the scanner, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		episodesDetectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "releasewatch_episodes_detected_total",
				Help: "Episodes recorded as new by the change detector.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasewatch_notifications_total",
				Help: "Notification attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		cycleDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "releasewatch_cycle_duration_seconds",
				Help:    "Scheduler cycle latency, labeled by loop and outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"loop", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "releasewatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "releasewatch_http_requests_total",
				Help: "Total number of ops API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "releasewatch_http_request_duration_seconds",
				Help:    "Histogram of ops API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL or key.
// It returns "unknown" if nothing usable is found.
func SanitizeHost(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one listing page fetch ("ok" or "error").
func ObservePage(status string) {
	Init()
	pagesCrawledTotal.WithLabelValues(status).Inc()
}

// ObserveItemsUpserted adds n written items.
func ObserveItemsUpserted(n int) {
	Init()
	if n > 0 {
		itemsUpsertedTotal.Add(float64(n))
	}
}

// ObserveFeedEntry counts a feed entry outcome ("kept", "duplicate", "malformed").
func ObserveFeedEntry(outcome string) {
	Init()
	feedEntriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEpisodesDetected adds n newly recorded episodes.
func ObserveEpisodesDetected(n int) {
	Init()
	if n > 0 {
		episodesDetectedTotal.Add(float64(n))
	}
}

// ObserveNotification counts a delivery outcome ("sent", "failed", "permanent").
func ObserveNotification(outcome string) {
	Init()
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCycle records one scheduler iteration.
func ObserveCycle(loop, outcome string, duration time.Duration) {
	Init()
	cycleDurationSeconds.WithLabelValues(loop, outcome).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
