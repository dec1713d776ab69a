package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveAttempt(200, 10*time.Millisecond)
	m.ObserveAttempt(503, 10*time.Millisecond)
	m.ObserveAttempt(503, 10*time.Millisecond)
	m.RecordFetch(OutcomeSuccess)
	m.RecordCacheLookup(CacheHit)
	m.RecordCacheLookup(CacheMiss)
	m.RecordCacheLookup(CacheMiss)
	m.RecordCacheWriteFailure()
	m.RecordProxyFailure("http://a:1", false)
	m.RecordProxyFailure("http://a:1", true)
	m.RecordCrawlResult()
	m.RecordDuplicate()
	m.RecordContinuationFailure()
	m.SetPending(7)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"2xx attempts", testutil.ToFloat64(m.attempts.WithLabelValues("2xx")), 1},
		{"5xx attempts", testutil.ToFloat64(m.attempts.WithLabelValues("5xx")), 2},
		{"success fetches", testutil.ToFloat64(m.fetches.WithLabelValues(OutcomeSuccess)), 1},
		{"cache misses", testutil.ToFloat64(m.cacheLookups.WithLabelValues(CacheMiss)), 2},
		{"cache write failures", testutil.ToFloat64(m.cacheWriteFailures), 1},
		{"proxy failures", testutil.ToFloat64(m.proxyFailures.WithLabelValues("http://a:1")), 2},
		{"proxy evictions", testutil.ToFloat64(m.proxyEvictions), 1},
		{"crawl results", testutil.ToFloat64(m.crawlResults), 1},
		{"duplicates", testutil.ToFloat64(m.crawlDuplicates), 1},
		{"continuation failures", testutil.ToFloat64(m.continuationFailures), 1},
		{"pending", testutil.ToFloat64(m.crawlPending), 7},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveAttempt(200, time.Second)
	m.RecordFetch(OutcomeTerminal)
	m.RecordCacheLookup(CacheStale)
	m.RecordCacheWriteFailure()
	m.RecordProxyFailure("p", true)
	m.RecordCrawlResult()
	m.RecordDuplicate()
	m.RecordContinuationFailure()
	m.SetPending(1)

	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordCacheLookup(CacheHit)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL) //nolint:noctx // test code
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `crawlcache_cache_lookups_total{result="hit"} 1`) {
		t.Errorf("metrics output missing cache lookup:\n%s", body)
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	tests := map[int]string{
		200: "2xx",
		404: "4xx",
		500: "5xx",
		0:   "unknown",
		999: "unknown",
	}
	for status, want := range tests {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
