// Package metrics exposes Prometheus collectors for the crawler.
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
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	scrapingEventsTotal        *prometheus.CounterVec
	recordsPersistedTotal      *prometheus.CounterVec
	registryAllocationsTotal   *prometheus.CounterVec
	itemsProcessedTotal        *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	batchRetryPassesTotal      *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scrapingEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_scraping_events_total",
				Help: "Total number of scraping events written, labeled by success.",
			},
			[]string{"success"},
		)

		recordsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_records_persisted_total",
				Help: "Total number of record writes, labeled by table and outcome.",
			},
			[]string{"table", "outcome"},
		)

		registryAllocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_registry_allocations_total",
				Help: "Total number of surrogate ids allocated, labeled by namespace.",
			},
			[]string{"namespace"},
		)

		itemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_processed_total",
				Help: "Total number of work items handled, labeled by batch and outcome.",
			},
			[]string{"batch", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

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

		batchRetryPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_batch_retry_passes_total",
				Help: "Total number of batch passes run, labeled by batch.",
			},
			[]string{"batch"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveEvent counts a written scraping event.
func ObserveEvent(success bool) {
	Init()
	scrapingEventsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// ObservePersist counts a record write against its table.
func ObservePersist(table string, outcome string) {
	Init()
	recordsPersistedTotal.WithLabelValues(table, outcome).Inc()
}

// ObserveRegistryAllocation counts a freshly allocated surrogate id.
func ObserveRegistryAllocation(namespace string) {
	Init()
	registryAllocationsTotal.WithLabelValues(namespace).Inc()
}

// ObserveItem counts a finished work item.
func ObserveItem(batch string, outcome string) {
	Init()
	itemsProcessedTotal.WithLabelValues(batch, outcome).Inc()
}

// ObserveBatchPass counts a dispatcher pass over a batch.
func ObserveBatchPass(batch string) {
	Init()
	batchRetryPassesTotal.WithLabelValues(batch).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
