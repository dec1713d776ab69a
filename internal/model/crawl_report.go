package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PageResult is one page visited by a crawl.
type PageResult struct {
	URL        string   `json:"url"`
	StatusCode int      `json:"status_code"`
	Reason     string   `json:"reason,omitempty"`
	Title      string   `json:"title,omitempty"`
	Size       int      `json:"size"`
	Links      int      `json:"links"`
	Depth      int      `json:"depth"`
	Emails     []string `json:"emails,omitempty"`
}

// CrawlReport summarizes one crawl run.
type CrawlReport struct {
	RunID      string    `json:"run_id"`
	Seeds      []string  `json:"seeds"`
	CachePath  string    `json:"cache_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched              int64 `json:"fetched"`
	CacheHits            int64 `json:"cache_hits"`
	Duplicates           int64 `json:"duplicates"`
	ContinuationFailures int64 `json:"continuation_failures"`

	// ProxiesLeft is the number of proxies still in rotation at the end of
	// the run. Zero with no proxies configured.
	ProxiesLeft int `json:"proxies_left"`

	Pages []PageResult `json:"pages"`

	// Cancelled is set when the run ended before its queue drained.
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

// NewCrawlReport starts a report for a run over seeds with a fresh run ID.
func NewCrawlReport(seeds []string) *CrawlReport {
	return &CrawlReport{
		RunID:     uuid.NewString(),
		Seeds:     seeds,
		StartedAt: time.Now(),
		Pages:     []PageResult{},
	}
}

// AddPage records a visited page.
func (r *CrawlReport) AddPage(p PageResult) {
	r.Pages = append(r.Pages, p)
}

// Finish stamps the end time.
func (r *CrawlReport) Finish() {
	r.FinishedAt = time.Now()
}

// Duration is the wall time of the run, zero until Finish is called.
func (r *CrawlReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Requests is the number of requests served, from the network or the cache.
func (r *CrawlReport) Requests() int64 {
	return r.Fetched + r.CacheHits
}

// StatusCount is the number of pages that ended with a status code.
type StatusCount struct {
	StatusCode int `json:"status_code"`
	Count      int `json:"count"`
}

// StatusCounts tallies pages by status code, ordered by code.
func (r *CrawlReport) StatusCounts() []StatusCount {
	counts := make(map[int]int)
	for _, p := range r.Pages {
		counts[p.StatusCode]++
	}

	out := make([]StatusCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, StatusCount{StatusCode: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatusCode < out[j].StatusCode })
	return out
}

// FailedPages returns pages whose status is outside the 2xx range.
func (r *CrawlReport) FailedPages() []PageResult {
	var failed []PageResult
	for _, p := range r.Pages {
		if p.StatusCode < 200 || p.StatusCode >= 300 {
			failed = append(failed, p)
		}
	}
	return failed
}

// Emails returns the distinct addresses found across all pages, sorted.
func (r *CrawlReport) Emails() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.Pages {
		for _, e := range p.Emails {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}
