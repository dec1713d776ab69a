package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nao1215/crawlcache/internal/cache"
	"github.com/nao1215/crawlcache/internal/codec"
	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/crawlcache/internal/proxy"
)

// scriptedTransport returns queued results in order and records attempts.
type scriptedTransport struct {
	mu       sync.Mutex
	results  []scriptedResult
	attempts []Attempt
}

type scriptedResult struct {
	status int
	body   string
	err    error
}

func (s *scriptedTransport) RoundTrip(ctx context.Context, a Attempt) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, a)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := scriptedResult{status: 200, body: "ok"}
	if len(s.results) > 0 {
		r = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &model.Response{StatusCode: r.status, Body: []byte(r.body), Reason: "scripted"}, nil
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()

	s, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, tr Transport, mutate func(*Config)) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Store = newTestStore(t)
	cfg.Transport = tr
	cfg.Delay = 0
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func TestEngine_Fetch_RetryPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("retriable status exhausts attempts and is cached", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 503}}}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/busy")

		resp := e.Fetch(ctx, req, WithMaxRetries(2))
		if resp.StatusCode != 503 {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
		if tr.calls() != 3 {
			t.Errorf("network calls = %d, want 3", tr.calls())
		}

		cached, err := e.Cached(ctx, req.Key())
		if err != nil {
			t.Fatalf("response not cached: %v", err)
		}
		if cached.StatusCode != 503 {
			t.Errorf("cached status = %d, want 503", cached.StatusCode)
		}
		entry, err := e.Store().Get(ctx, req.Key())
		if err != nil {
			t.Fatal(err)
		}
		if entry.Meta[MetaAttempts] != "3" || entry.Meta[MetaStatus] != "503" {
			t.Errorf("meta = %v", entry.Meta)
		}
	})

	t.Run("non-retriable status stops after one call", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 404}, {status: 200}}}
		e := newTestEngine(t, tr, nil)

		resp := e.Fetch(ctx, model.NewRequest("https://example.com/missing"), WithMaxRetries(3))
		if resp.StatusCode != 404 {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		if tr.calls() != 1 {
			t.Errorf("network calls = %d, want 1", tr.calls())
		}
	})

	t.Run("success after failures", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 502}, {status: 201, body: "created"}}}
		e := newTestEngine(t, tr, nil)

		resp := e.Fetch(ctx, model.NewRequest("https://example.com/flaky"), WithMaxRetries(5))
		if !e.Policy().IsSuccess(resp) || resp.Text() != "created" {
			t.Errorf("got %v", resp)
		}
		if tr.calls() != 2 {
			t.Errorf("network calls = %d, want 2", tr.calls())
		}
	})

	t.Run("custom policy", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 410}}}
		e := newTestEngine(t, tr, func(c *Config) {
			c.Policy = model.Policy{
				Success:      model.NewStatusSet(200),
				NonRetriable: model.NewStatusSet(404, 410),
			}
		})

		e.Fetch(ctx, model.NewRequest("https://example.com/gone"), WithMaxRetries(4))
		if tr.calls() != 1 {
			t.Errorf("network calls = %d, want 1", tr.calls())
		}
	})
}

func TestEngine_Fetch_Cache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fresh hit makes no network call", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/")

		first := e.Fetch(ctx, req)
		second := e.Fetch(ctx, req)
		if tr.calls() != 1 {
			t.Errorf("network calls = %d, want 1", tr.calls())
		}
		if second.Text() != first.Text() || second.StatusCode != 200 {
			t.Errorf("cached response = %v", second)
		}
	})

	t.Run("cached retriable status is refetched", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 500}, {status: 200}}}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/")

		e.Fetch(ctx, req, WithMaxRetries(0))
		if tr.calls() != 1 {
			t.Fatalf("network calls = %d, want 1", tr.calls())
		}

		// maxRetries 0 accepts the cached failure.
		resp := e.Fetch(ctx, req, WithMaxRetries(0))
		if tr.calls() != 1 || resp.StatusCode != 500 {
			t.Errorf("calls=%d status=%d, want cached 500", tr.calls(), resp.StatusCode)
		}

		resp = e.Fetch(ctx, req, WithMaxRetries(1))
		if tr.calls() != 2 || resp.StatusCode != 200 {
			t.Errorf("calls=%d status=%d, want refetched 200", tr.calls(), resp.StatusCode)
		}
	})

	t.Run("cached non-retriable status is served", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{results: []scriptedResult{{status: 404}}}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/missing")

		e.Fetch(ctx, req, WithMaxRetries(3))
		e.Fetch(ctx, req, WithMaxRetries(3))
		if tr.calls() != 1 {
			t.Errorf("network calls = %d, want 1", tr.calls())
		}
	})

	t.Run("read and write cache disabled", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/")

		e.Fetch(ctx, req, WithWriteCache(false))
		if _, err := e.Cached(ctx, req.Key()); !errors.Is(err, cache.ErrNotFound) {
			t.Errorf("expected nothing cached, got %v", err)
		}

		e.Fetch(ctx, req)
		e.Fetch(ctx, req, WithReadCache(false))
		if tr.calls() != 3 {
			t.Errorf("network calls = %d, want 3", tr.calls())
		}
	})

	t.Run("stale pending entry is a miss", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, nil)
		req := model.NewRequest("https://example.com/")

		e.Fetch(ctx, req)
		if err := e.Store().MarkStale(ctx, req.Key()); err != nil {
			t.Fatal(err)
		}
		e.Fetch(ctx, req)
		if tr.calls() != 2 {
			t.Errorf("network calls = %d, want 2", tr.calls())
		}
	})

	t.Run("custom key", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, nil)

		e.Fetch(ctx, model.NewRequest("https://example.com/?session=1"), WithKey("home"))
		e.Fetch(ctx, model.NewRequest("https://example.com/?session=2"), WithKey("home"))
		if tr.calls() != 1 {
			t.Errorf("network calls = %d, want 1", tr.calls())
		}
	})

	t.Run("raw entry served as success", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, nil)
		if err := e.Store().Put(ctx, "https://example.com/raw", []byte("legacy"), nil); err != nil {
			t.Fatal(err)
		}
		resp := e.Fetch(ctx, model.NewRequest("https://example.com/raw"))
		if tr.calls() != 0 || resp.Text() != "legacy" || resp.StatusCode != 200 {
			t.Errorf("calls=%d resp=%v", tr.calls(), resp)
		}
	})

	t.Run("engine without store", func(t *testing.T) {
		t.Parallel()

		tr := &scriptedTransport{}
		e := newTestEngine(t, tr, func(c *Config) { c.Store = nil })
		req := model.NewRequest("https://example.com/")
		e.Fetch(ctx, req)
		e.Fetch(ctx, req)
		if tr.calls() != 2 {
			t.Errorf("network calls = %d, want 2", tr.calls())
		}
		if _, err := e.Cached(ctx, req.Key()); !errors.Is(err, ErrNoStore) {
			t.Errorf("expected ErrNoStore, got %v", err)
		}
	})
}

func TestEngine_Fetch_TransportFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("connection refused")

	rotator, err := proxy.NewRotator([]string{"http://p1:1", "http://p2:1"}, proxy.WithMaxFailures(2))
	if err != nil {
		t.Fatal(err)
	}
	tr := &scriptedTransport{results: []scriptedResult{{err: boom}}}
	e := newTestEngine(t, tr, func(c *Config) { c.Rotator = rotator })

	resp := e.Fetch(ctx, model.NewRequest("https://example.com/"), WithMaxRetries(3))
	if resp.StatusCode != model.StatusTransportFailure {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if resp.Reason != boom.Error() {
		t.Errorf("reason = %q, want %q", resp.Reason, boom.Error())
	}
	if tr.calls() != 4 {
		t.Errorf("network calls = %d, want 4", tr.calls())
	}

	// Attempts alternate p1, p2, p1, p2; the second failure of each evicts it.
	wantProxies := []string{"http://p1:1", "http://p2:1", "http://p1:1", "http://p2:1"}
	for i, want := range wantProxies {
		if got := tr.attempts[i].Proxy; got != want {
			t.Errorf("attempt %d proxy = %q, want %q", i, got, want)
		}
	}
	if rotator.Len() != 0 {
		t.Errorf("rotator Len = %d, want 0", rotator.Len())
	}

	// With every proxy evicted requests go direct.
	e.Fetch(ctx, model.NewRequest("https://example.com/next"), WithMaxRetries(0))
	if got := tr.attempts[len(tr.attempts)-1].Proxy; got != "" {
		t.Errorf("proxy after eviction = %q, want direct", got)
	}
}

func TestEngine_Fetch_ProxySuccessResets(t *testing.T) {
	t.Parallel()

	rotator, err := proxy.NewRotator([]string{"http://p1:1"})
	if err != nil {
		t.Fatal(err)
	}
	tr := &scriptedTransport{results: []scriptedResult{{err: errors.New("reset")}, {status: 200}}}
	e := newTestEngine(t, tr, func(c *Config) { c.Rotator = rotator })

	e.Fetch(context.Background(), model.NewRequest("https://example.com/"), WithMaxRetries(1))
	if rotator.Failures("http://p1:1") != 0 {
		t.Errorf("failures = %d, want 0 after success", rotator.Failures("http://p1:1"))
	}

	tr2 := &scriptedTransport{}
	e2 := newTestEngine(t, tr2, func(c *Config) { c.Rotator = rotator })
	e2.Fetch(context.Background(), model.NewRequest("https://example.com/direct"), WithProxy(false))
	if tr2.attempts[0].Proxy != "" {
		t.Errorf("WithProxy(false) used %q", tr2.attempts[0].Proxy)
	}
}

func TestEngine_Fetch_Headers(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	e := newTestEngine(t, tr, func(c *Config) { c.UserAgent = "engine-agent" })

	req := model.NewRequest("https://example.com/a").WithHeader("user-agent", "explicit")
	e.Fetch(context.Background(), req, WithVerifyTLS(false), WithAutoDecode(false))

	a := tr.attempts[0]
	if a.Headers["user-agent"] != "explicit" {
		t.Errorf("explicit header lost: %v", a.Headers)
	}
	if _, ok := a.Headers["User-Agent"]; ok {
		t.Error("default User-Agent should not be added when set in any case")
	}
	if a.Headers["Referer"] != "https://example.com/a" {
		t.Errorf("Referer = %q", a.Headers["Referer"])
	}
	if a.Headers["Accept"] == "" {
		t.Error("default Accept header missing")
	}
	if a.VerifyTLS || a.AutoDecode {
		t.Error("per-call options not applied")
	}

	e.Fetch(context.Background(), model.NewRequest("https://example.com/b"), WithUserAgent("call-agent"))
	if got := tr.attempts[1].Headers["User-Agent"]; got != "call-agent" {
		t.Errorf("User-Agent = %q, want call-agent", got)
	}
}

func TestEngine_Fetch_Cancelled(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{}
	e := newTestEngine(t, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := model.NewRequest("https://example.com/")
	resp := e.Fetch(ctx, req)
	if resp.StatusCode != model.StatusTransportFailure {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if _, err := e.Cached(context.Background(), req.Key()); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("cancelled fetch should not be cached, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(*Config) {}, nil},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, ErrInvalidMaxRetries},
		{"negative timeout", func(c *Config) { c.Timeout = -1 }, ErrInvalidTimeout},
		{"negative delay", func(c *Config) { c.Delay = -1 }, ErrInvalidDelay},
		{"empty success set", func(c *Config) { c.Policy.Success = model.NewStatusSet() }, ErrEmptySuccessSet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
			if _, newErr := New(cfg); (newErr == nil) != (tc.wantErr == nil) {
				t.Errorf("New() error = %v", newErr)
			}
		})
	}
}

func TestSaveLoadResponse_LargestBody(t *testing.T) {
	t.Parallel()

	if codec.MaxDecodedSize <= DefaultMaxBodySize {
		t.Fatalf("decode limit %d must exceed the body cap %d", codec.MaxDecodedSize, DefaultMaxBodySize)
	}

	store := newTestStore(t)
	ctx := context.Background()
	body := bytes.Repeat([]byte("a"), int(DefaultMaxBodySize))
	resp := &model.Response{StatusCode: 200, Reason: "OK", Body: body}

	if err := SaveResponse(ctx, store, "big", "http://example.com/big", resp, 1); err != nil {
		t.Fatalf("SaveResponse failed: %v", err)
	}
	got, err := LoadResponse(ctx, store, "big")
	if err != nil {
		t.Fatalf("LoadResponse failed: %v", err)
	}
	if !bytes.Equal(got.Body, body) {
		t.Errorf("body of %d bytes came back as %d bytes", len(body), len(got.Body))
	}
}
