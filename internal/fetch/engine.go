package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/nao1215/crawlcache/internal/cache"
	"github.com/nao1215/crawlcache/internal/codec"
	"github.com/nao1215/crawlcache/internal/metrics"
	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/crawlcache/internal/proxy"
	"github.com/nao1215/crawlcache/internal/throttle"
)

// Meta keys written next to every cached response.
const (
	MetaStatus   = "status"
	MetaURL      = "url"
	MetaDigest   = "digest"
	MetaAttempts = "attempts"
)

// Config holds the collaborators and defaults of an Engine.
type Config struct {
	// Store caches responses. Nil disables caching.
	Store *cache.Store

	// Rotator supplies proxies. Nil means every request goes direct.
	Rotator *proxy.Rotator

	// Throttle spaces attempts per route. Nil creates a private one.
	Throttle *throttle.Throttle

	// Transport performs attempts. Nil uses NewHTTPTransport().
	Transport Transport

	// Headers are merged into every request. Nil uses DefaultHeaders().
	Headers map[string]string

	// Policy classifies statuses. A nil success set uses DefaultPolicy().
	Policy model.Policy

	// UserAgent is sent when the request does not set one.
	UserAgent string

	// Delay is the default minimum spacing between attempts on one route.
	Delay time.Duration

	// MaxRetries is the default number of attempts after the first.
	MaxRetries int

	// Timeout is the default bound of each attempt.
	Timeout time.Duration

	// VerifyTLS is the default certificate verification setting.
	VerifyTLS bool

	// Logger receives download progress. Nil uses slog.Default().
	Logger *slog.Logger

	// Metrics records attempts and cache lookups. Nil disables metrics.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with the engine defaults.
func DefaultConfig() Config {
	return Config{
		Headers:    DefaultHeaders(),
		Policy:     model.DefaultPolicy(),
		UserAgent:  DefaultUserAgent,
		Delay:      time.Second,
		MaxRetries: 1,
		Timeout:    30 * time.Second,
		VerifyTLS:  true,
	}
}

// Validate checks the numeric settings of c.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxRetries, c.MaxRetries)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidTimeout, c.Timeout)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDelay, c.Delay)
	}
	if c.Policy.Success != nil && len(c.Policy.Success) == 0 {
		return ErrEmptySuccessSet
	}
	return nil
}

// Engine downloads requests through the cache, the proxy rotator and the
// throttle. It is safe for concurrent use.
type Engine struct {
	store     *cache.Store
	rotator   *proxy.Rotator
	throttle  *throttle.Throttle
	transport Transport
	headers   map[string]string
	policy    model.Policy
	defaults  settings
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:     cfg.Store,
		rotator:   cfg.Rotator,
		throttle:  cfg.Throttle,
		transport: cfg.Transport,
		headers:   maps.Clone(cfg.Headers),
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		defaults: settings{
			maxRetries: cfg.MaxRetries,
			timeout:    cfg.Timeout,
			delay:      cfg.Delay,
			readCache:  true,
			writeCache: true,
			useProxy:   true,
			verifyTLS:  cfg.VerifyTLS,
			autoDecode: true,
			userAgent:  cfg.UserAgent,
		},
	}
	if e.throttle == nil {
		e.throttle = throttle.New()
	}
	if e.transport == nil {
		e.transport = NewHTTPTransport()
	}
	if e.headers == nil {
		e.headers = DefaultHeaders()
	}
	if e.policy.Success == nil {
		e.policy = model.DefaultPolicy()
	}
	if e.policy.NonRetriable == nil {
		e.policy.NonRetriable = model.NewStatusSet()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.defaults.userAgent == "" {
		e.defaults.userAgent = DefaultUserAgent
	}
	return e, nil
}

// Policy returns the status classification used by the engine.
func (e *Engine) Policy() model.Policy {
	return e.policy
}

// Store returns the cache store, or nil.
func (e *Engine) Store() *cache.Store {
	return e.store
}

// MaxRetries returns the default retry count.
func (e *Engine) MaxRetries() int {
	return e.defaults.maxRetries
}

// Fetch resolves req to a response. It never fails: transport errors are
// returned as responses with status 500.
func (e *Engine) Fetch(ctx context.Context, req model.Request, opts ...Option) *model.Response {
	s := e.defaults
	for _, opt := range opts {
		opt(&s)
	}
	key := s.key
	if key == "" {
		key = req.Key()
	}

	if s.readCache {
		if resp, ok := e.lookup(ctx, key, s.maxRetries); ok {
			return resp
		}
	}

	e.logger.Info("download", "url", req.URL, "method", req.Method())

	resp, attempts := e.attempt(ctx, req, s)
	if ctx.Err() != nil {
		// A cancelled fetch says nothing about the endpoint.
		e.metrics.RecordFetch(metrics.OutcomeCancelled)
		return resp
	}

	switch {
	case e.policy.IsSuccess(resp):
		e.metrics.RecordFetch(metrics.OutcomeSuccess)
	case e.policy.IsTerminal(resp):
		e.metrics.RecordFetch(metrics.OutcomeTerminal)
	default:
		e.metrics.RecordFetch(metrics.OutcomeExhausted)
	}

	if s.writeCache {
		if err := e.save(ctx, key, req.URL, resp, attempts); err != nil && !errors.Is(err, ErrNoStore) {
			e.metrics.RecordCacheWriteFailure()
			e.logger.Warn("failed to cache response", "url", req.URL, "error", err)
		}
	}
	return resp
}

// attempt runs the retry loop and returns the last response with the
// number of attempts made.
func (e *Engine) attempt(ctx context.Context, req model.Request, s settings) (*model.Response, int) {
	headers := MergeHeaders(req.Headers, e.headers, s.userAgent, req.URL)

	var resp *model.Response
	attempts := 0
	for n := 0; n <= s.maxRetries; n++ {
		proxyURL := ""
		if s.useProxy && e.rotator != nil {
			proxyURL, _ = e.rotator.Next()
		}
		route := throttle.GlobalRoute
		if proxyURL != "" {
			route = proxyURL
		}
		if err := e.throttle.Wait(ctx, route, s.delay); err != nil {
			if resp == nil {
				resp = model.NewTransportFailure(err)
			}
			break
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if s.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		start := time.Now()
		r, err := e.transport.RoundTrip(attemptCtx, Attempt{
			Request:    req,
			Headers:    headers,
			Proxy:      proxyURL,
			VerifyTLS:  s.verifyTLS,
			AutoDecode: s.autoDecode,
		})
		cancel()
		attempts++

		if err != nil {
			resp = model.NewTransportFailure(err)
			e.logger.Warn("download error", "url", req.URL, "attempt", n+1, "error", err)
			if proxyURL != "" {
				evicted := e.rotator.RecordFailure(proxyURL)
				e.metrics.RecordProxyFailure(proxyURL, evicted)
				if evicted {
					e.logger.Warn("proxy evicted", "proxy", proxyURL, "failures", e.rotator.Failures(proxyURL))
				}
			}
		} else {
			resp = r
			if proxyURL != "" {
				e.rotator.RecordSuccess(proxyURL)
			}
		}
		e.metrics.ObserveAttempt(resp.StatusCode, time.Since(start))

		if ctx.Err() != nil {
			break
		}
		if !e.policy.ShouldRetry(resp, n, s.maxRetries) {
			break
		}
		if err == nil {
			e.logger.Warn("download error", "url", req.URL, "attempt", n+1, "status", resp.StatusCode)
		}
	}
	return resp, attempts
}

// lookup returns the cached response for key when it is fresh and its
// status does not call for a retry.
func (e *Engine) lookup(ctx context.Context, key string, maxRetries int) (*model.Response, bool) {
	if e.store == nil {
		return nil, false
	}
	entry, err := e.store.Fresh(ctx, key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		e.metrics.RecordCacheLookup(metrics.CacheMiss)
		return nil, false
	case errors.Is(err, cache.ErrStale):
		e.metrics.RecordCacheLookup(metrics.CacheStale)
		return nil, false
	case err != nil:
		e.metrics.RecordCacheLookup(metrics.CacheMiss)
		e.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}

	resp, err := DecodeEntry(entry)
	if err != nil {
		e.metrics.RecordCacheLookup(metrics.CacheMiss)
		e.logger.Warn("cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	if e.policy.ShouldRetry(resp, 0, maxRetries) {
		e.metrics.RecordCacheLookup(metrics.CacheStale)
		return nil, false
	}
	e.metrics.RecordCacheLookup(metrics.CacheHit)
	return resp, true
}

// Cached returns the stored response for key, ignoring freshness.
func (e *Engine) Cached(ctx context.Context, key string) (*model.Response, error) {
	if e.store == nil {
		return nil, ErrNoStore
	}
	return LoadResponse(ctx, e.store, key)
}

// Save persists resp under key. url is recorded in the entry metadata.
func (e *Engine) Save(ctx context.Context, key, url string, resp *model.Response) error {
	return e.save(ctx, key, url, resp, 0)
}

func (e *Engine) save(ctx context.Context, key, url string, resp *model.Response, attempts int) error {
	if e.store == nil {
		return ErrNoStore
	}
	return SaveResponse(ctx, e.store, key, url, resp, attempts)
}

// LoadResponse reads the response stored under key, ignoring freshness.
func LoadResponse(ctx context.Context, store *cache.Store, key string) (*model.Response, error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodeEntry(entry)
}

// SaveResponse writes resp under key with its status, url and digest as
// metadata. attempts is recorded when positive.
func SaveResponse(ctx context.Context, store *cache.Store, key, url string, resp *model.Response, attempts int) error {
	if resp == nil {
		return errors.New("fetch: nil response")
	}
	payload, err := codec.Msgpack[model.Response]{}.Encode(*resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	meta := cache.Meta{
		MetaStatus: strconv.Itoa(resp.StatusCode),
		MetaURL:    url,
		MetaDigest: resp.Digest(),
	}
	if attempts > 0 {
		meta[MetaAttempts] = strconv.Itoa(attempts)
	}
	return store.PutKind(ctx, key, codec.KindResponse, payload, meta)
}

// DecodeEntry converts a cache entry into a response. Raw entries are
// treated as successful bodies.
func DecodeEntry(entry *cache.Entry) (*model.Response, error) {
	switch entry.Kind {
	case codec.KindResponse:
		resp, err := codec.Msgpack[model.Response]{}.Decode(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cached response: %w", err)
		}
		return &resp, nil
	case codec.KindRaw:
		return &model.Response{Body: entry.Value, StatusCode: 200, Reason: "OK"}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected kind %d", codec.ErrCorrupt, entry.Kind)
	}
}
