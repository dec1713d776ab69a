package crawler

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/crawlcache/internal/cache"
	"github.com/nao1215/crawlcache/internal/fetch"
	"github.com/nao1215/crawlcache/internal/metrics"
	"github.com/nao1215/crawlcache/internal/model"
)

// Stats is a snapshot of crawl counters.
type Stats struct {
	Fetched              int64
	CacheHits            int64
	Duplicates           int64
	ContinuationFailures int64
	Results              int64
}

// Crawler schedules tasks over a fetch engine and a cache store.
type Crawler[T any] struct {
	engine  *fetch.Engine
	store   *cache.Store
	opts    options
	logger  *slog.Logger
	metrics *metrics.Metrics

	fetched    atomic.Int64
	cacheHits  atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
	results    atomic.Int64
}

// New creates a Crawler. A nil store falls back to the engine's store;
// with neither, every request is fetched.
func New[T any](engine *fetch.Engine, store *cache.Store, opts ...Option) (*Crawler[T], error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	o := options{
		maxWorkers:  DefaultMaxWorkers,
		maxQueue:    DefaultMaxQueue,
		deduplicate: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxWorkers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, o.maxWorkers)
	}
	if o.maxQueue < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQueue, o.maxQueue)
	}
	if store == nil {
		store = engine.Store()
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler[T]{
		engine:  engine,
		store:   store,
		opts:    o,
		logger:  logger,
		metrics: o.metrics,
	}, nil
}

// Stats returns the counters accumulated over every run of c.
func (c *Crawler[T]) Stats() Stats {
	return Stats{
		Fetched:              c.fetched.Load(),
		CacheHits:            c.cacheHits.Load(),
		Duplicates:           c.duplicates.Load(),
		ContinuationFailures: c.failures.Load(),
		Results:              c.results.Load(),
	}
}

// Run crawls from seeds and yields every emitted result. The returned
// sequence can be ranged over once.
func (c *Crawler[T]) Run(ctx context.Context, seeds []Task[T]) iter.Seq[T] {
	var used atomic.Bool
	return func(yield func(T) bool) {
		if !used.CompareAndSwap(false, true) {
			c.logger.Warn("crawl sequence already consumed")
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := &run[T]{
			c:      c,
			seen:   make(map[string]struct{}),
			yield:  yield,
			cancel: cancel,
		}
		for _, t := range seeds {
			r.push(t)
		}

		start := time.Now()
		c.logger.Info("crawl started", "seeds", len(r.pending), "workers", c.opts.maxWorkers)
		defer func() {
			s := c.Stats()
			c.logger.Info("crawl completed",
				"fetched", s.Fetched,
				"cache_hits", s.CacheHits,
				"results", s.Results,
				"duplicates", s.Duplicates,
				"duration", time.Since(start),
			)
		}()

		for len(r.pending) > 0 {
			if ctx.Err() != nil {
				return
			}
			if !r.window(ctx, r.pop(c.opts.maxQueue)) {
				return
			}
		}
	}
}

// outcome is a fetched task travelling from a worker to the loop.
type outcome[T any] struct {
	task Task[T]
	resp *model.Response
}

// run is the state of one Run call. Only the loop goroutine touches it.
type run[T any] struct {
	c       *Crawler[T]
	pending []Task[T]
	seen    map[string]struct{}
	yield   func(T) bool
	cancel  context.CancelFunc
	stopped bool
}

// push queues t unless its key was already seen.
func (r *run[T]) push(t Task[T]) {
	if r.c.opts.deduplicate {
		key := t.Request.Key()
		if _, ok := r.seen[key]; ok {
			r.c.duplicates.Add(1)
			r.c.metrics.RecordDuplicate()
			return
		}
		r.seen[key] = struct{}{}
	}
	r.pending = append(r.pending, t)
	r.c.metrics.SetPending(len(r.pending))
}

// pop removes up to n tasks, newest first.
func (r *run[T]) pop(n int) []Task[T] {
	window := make([]Task[T], 0, min(n, len(r.pending)))
	for len(r.pending) > 0 && len(window) < n {
		last := len(r.pending) - 1
		window = append(window, r.pending[last])
		r.pending[last] = Task[T]{}
		r.pending = r.pending[:last]
	}
	r.c.metrics.SetPending(len(r.pending))
	return window
}

// window processes one batch of tasks. It returns false when the crawl
// must stop.
func (r *run[T]) window(ctx context.Context, tasks []Task[T]) bool {
	hits, misses := r.split(ctx, tasks)
	r.c.logger.Debug("crawl window",
		"size", len(tasks),
		"hits", len(hits),
		"misses", len(misses),
		"pending", len(r.pending),
	)

	results := r.dispatch(ctx, misses)

	for _, h := range hits {
		if r.stopped || ctx.Err() != nil {
			break
		}
		r.c.cacheHits.Add(1)
		r.handle(ctx, h.task, h.resp)
	}

	for o := range results {
		if r.stopped || ctx.Err() != nil {
			continue
		}
		r.c.fetched.Add(1)
		r.persist(ctx, o.task, o.resp)
		r.handle(ctx, o.task, o.resp)
	}
	return !r.stopped && ctx.Err() == nil
}

// split separates fresh cache hits from tasks that need a download.
func (r *run[T]) split(ctx context.Context, tasks []Task[T]) ([]outcome[T], []Task[T]) {
	store := r.c.store
	if store == nil {
		return nil, tasks
	}

	keys := make([]string, len(tasks))
	for i, t := range tasks {
		keys[i] = t.Request.Key()
	}
	expiry := store.Expiry()
	if r.c.opts.expiry != nil {
		expiry = *r.c.opts.expiry
	}
	present, err := store.Contains(ctx, keys, expiry, false)
	if err != nil {
		r.c.logger.Warn("cache lookup failed", "keys", len(keys), "error", err)
		return nil, tasks
	}

	policy := r.c.engine.Policy()
	maxRetries := r.c.engine.MaxRetries()
	var hits []outcome[T]
	var misses []Task[T]
	for i, t := range tasks {
		if !present[keys[i]] {
			r.c.metrics.RecordCacheLookup(metrics.CacheMiss)
			misses = append(misses, t)
			continue
		}
		resp, err := fetch.LoadResponse(ctx, store, keys[i])
		if err != nil {
			r.c.logger.Warn("cache entry unreadable", "key", keys[i], "error", err)
			r.c.metrics.RecordCacheLookup(metrics.CacheMiss)
			misses = append(misses, t)
			continue
		}
		if policy.ShouldRetry(resp, 0, maxRetries) {
			r.c.metrics.RecordCacheLookup(metrics.CacheStale)
			misses = append(misses, t)
			continue
		}
		r.c.metrics.RecordCacheLookup(metrics.CacheHit)
		hits = append(hits, outcome[T]{task: t, resp: resp})
	}
	return hits, misses
}

// dispatch fetches tasks on the worker pool. The returned channel is
// closed once every submitted fetch has finished.
func (r *run[T]) dispatch(ctx context.Context, tasks []Task[T]) <-chan outcome[T] {
	results := make(chan outcome[T], len(tasks))
	if len(tasks) == 0 {
		close(results)
		return results
	}

	opts := append([]fetch.Option{
		fetch.WithReadCache(false),
		fetch.WithWriteCache(false),
	}, r.c.opts.fetchOpts...)

	go func() {
		defer close(results)
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(r.c.opts.maxWorkers)
		for _, t := range tasks {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				resp := r.c.engine.Fetch(ctx, t.Request, opts...)
				results <- outcome[T]{task: t, resp: resp}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}

// persist writes a fetched response to the store.
func (r *run[T]) persist(ctx context.Context, t Task[T], resp *model.Response) {
	if r.c.store == nil || resp == nil {
		return
	}
	if err := fetch.SaveResponse(ctx, r.c.store, t.Request.Key(), t.Request.URL, resp, 0); err != nil {
		r.c.metrics.RecordCacheWriteFailure()
		r.c.logger.Warn("failed to cache response", "url", t.Request.URL, "error", err)
	}
}

// handle runs the continuation of t and routes what it yields.
func (r *run[T]) handle(ctx context.Context, t Task[T], resp *model.Response) {
	if t.Continue == nil {
		return
	}
	out, err := call(ctx, t, resp)
	if err != nil {
		r.c.failures.Add(1)
		r.c.metrics.RecordContinuationFailure()
		r.c.logger.Warn("continuation failed", "url", t.Request.URL, "error", err)
		return
	}
	for _, y := range out {
		if y.IsRequest() {
			r.push(y.Task())
			continue
		}
		r.c.results.Add(1)
		r.c.metrics.RecordCrawlResult()
		if !r.yield(y.Value()) {
			r.stopped = true
			r.cancel()
			return
		}
	}
}

func call[T any](ctx context.Context, t Task[T], resp *model.Response) (out []Yielded[T], err error) {
	defer func() {
		if v := recover(); v != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrContinuationPanic, v)
		}
	}()
	return t.Continue(ctx, t.Request, resp)
}
