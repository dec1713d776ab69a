// Package robots answers robots.txt questions for a crawl. robots.txt files
// are downloaded through the fetch engine, so they are cached alongside
// every other response.
package robots

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/model"
)

// Fetcher downloads a request. *fetch.Engine satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, req model.Request, opts ...fetch.Option) *model.Response
}

// Policy caches parsed robots.txt files per origin.
type Policy struct {
	fetcher Fetcher
	agent   string
	logger  *slog.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

// New creates a Policy for userAgent.
func New(f Fetcher, userAgent string, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		fetcher: f,
		agent:   userAgent,
		logger:  logger,
		hosts:   make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether rawURL may be crawled. Unparsable URLs are
// refused.
func (p *Policy) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return p.data(ctx, u).TestAgent(target, p.agent)
}

// CrawlDelay returns the Crawl-delay declared for the origin of rawURL, or
// zero.
func (p *Policy) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	return p.data(ctx, u).FindGroup(p.agent).CrawlDelay
}

// data returns the robots.txt of the origin of u. Server errors disallow
// the whole origin; missing or unreadable files allow it.
func (p *Policy) data(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := u.Scheme + "://" + u.Host

	p.mu.Lock()
	data, ok := p.hosts[origin]
	p.mu.Unlock()
	if ok {
		return data
	}

	resp := p.fetcher.Fetch(ctx, model.NewRequest(origin+"/robots.txt"))
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		p.logger.Warn("invalid robots.txt", "origin", origin, "error", err)
		data, _ = robotstxt.FromStatusAndBytes(404, nil)
	}

	p.mu.Lock()
	p.hosts[origin] = data
	p.mu.Unlock()
	return data
}
