// Package metrics exposes Prometheus counters for the fetch engine and the
// crawl loop. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Fetch outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeTerminal  = "terminal"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry             *prometheus.Registry
	attempts             *prometheus.CounterVec
	fetches              *prometheus.CounterVec
	cacheLookups         *prometheus.CounterVec
	cacheWriteFailures   prometheus.Counter
	attemptDuration      *prometheus.HistogramVec
	proxyFailures        *prometheus.CounterVec
	proxyEvictions       prometheus.Counter
	crawlResults         prometheus.Counter
	crawlDuplicates      prometheus.Counter
	continuationFailures prometheus.Counter
	crawlPending         prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlcache_fetch_attempts_total",
		Help: "Total network attempts by status class",
	}, []string{"status_class"})

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlcache_fetches_total",
		Help: "Total completed fetch calls by outcome",
	}, []string{"outcome"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlcache_cache_lookups_total",
		Help: "Total cache lookups by result",
	}, []string{"result"})

	cacheWriteFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlcache_cache_write_failures_total",
		Help: "Total failed cache writes",
	})

	attemptDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawlcache_attempt_duration_seconds",
		Help:    "Network attempt duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"status_class"})

	proxyFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlcache_proxy_failures_total",
		Help: "Total failed attempts through a proxy",
	}, []string{"proxy"})

	proxyEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlcache_proxy_evictions_total",
		Help: "Total proxies evicted from rotation",
	})

	crawlResults := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlcache_crawl_results_total",
		Help: "Total values yielded by the crawl loop",
	})

	crawlDuplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlcache_crawl_duplicates_total",
		Help: "Total follow-up requests dropped as duplicates",
	})

	continuationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crawlcache_continuation_failures_total",
		Help: "Total continuations that returned an error or panicked",
	})

	crawlPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crawlcache_crawl_pending",
		Help: "Tasks waiting in the crawl loop",
	})

	registry.MustRegister(attempts, fetches, cacheLookups, cacheWriteFailures, attemptDuration,
		proxyFailures, proxyEvictions, crawlResults, crawlDuplicates, continuationFailures, crawlPending)

	return &Metrics{
		registry:             registry,
		attempts:             attempts,
		fetches:              fetches,
		cacheLookups:         cacheLookups,
		cacheWriteFailures:   cacheWriteFailures,
		attemptDuration:      attemptDuration,
		proxyFailures:        proxyFailures,
		proxyEvictions:       proxyEvictions,
		crawlResults:         crawlResults,
		crawlDuplicates:      crawlDuplicates,
		continuationFailures: continuationFailures,
		crawlPending:         crawlPending,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one network attempt.
func (m *Metrics) ObserveAttempt(status int, duration time.Duration) {
	if m == nil {
		return
	}
	class := statusClass(status)
	m.attempts.WithLabelValues(class).Inc()
	m.attemptDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordFetch records the outcome of a Fetch call that reached the network.
func (m *Metrics) RecordFetch(outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records a cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWriteFailure records a failed cache write.
func (m *Metrics) RecordCacheWriteFailure() {
	if m == nil {
		return
	}
	m.cacheWriteFailures.Inc()
}

// RecordProxyFailure records a failed attempt through proxy. Evicted marks
// that the failure removed the proxy from rotation.
func (m *Metrics) RecordProxyFailure(proxy string, evicted bool) {
	if m == nil {
		return
	}
	m.proxyFailures.WithLabelValues(proxy).Inc()
	if evicted {
		m.proxyEvictions.Inc()
	}
}

// RecordCrawlResult records one value yielded by the crawl loop.
func (m *Metrics) RecordCrawlResult() {
	if m == nil {
		return
	}
	m.crawlResults.Inc()
}

// RecordDuplicate records a follow-up request dropped by deduplication.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.crawlDuplicates.Inc()
}

// RecordContinuationFailure records a failed continuation.
func (m *Metrics) RecordContinuationFailure() {
	if m == nil {
		return
	}
	m.continuationFailures.Inc()
}

// SetPending sets the number of tasks waiting in the crawl loop.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.crawlPending.Set(float64(n))
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
