package crawler

import (
	"log/slog"
	"time"

	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/metrics"
)

// Default crawl settings.
const (
	DefaultMaxWorkers = 4
	DefaultMaxQueue   = 1000
)

type options struct {
	maxWorkers  int
	maxQueue    int
	deduplicate bool
	expiry      *time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	fetchOpts   []fetch.Option
}

// Option configures a Crawler.
type Option func(*options)

// WithMaxWorkers sets how many fetches run at once.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithMaxQueue sets how many pending tasks are scheduled per window.
func WithMaxQueue(n int) Option {
	return func(o *options) {
		o.maxQueue = n
	}
}

// WithDeduplicate enables or disables dropping requests already seen.
func WithDeduplicate(enabled bool) Option {
	return func(o *options) {
		o.deduplicate = enabled
	}
}

// WithExpiry sets the freshness window of the bulk cache check. It
// defaults to the store's own expiry.
func WithExpiry(d time.Duration) Option {
	return func(o *options) {
		o.expiry = &d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFetchOptions adds options to every fetch made by the workers.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(o *options) {
		o.fetchOpts = append(o.fetchOpts, opts...)
	}
}
