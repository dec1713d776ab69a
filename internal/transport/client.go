package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultMaxRedirects is the redirect limit used when ClientOptions leaves
// it unset.
const DefaultMaxRedirects = 10

// ClientOptions describes one egress.
type ClientOptions struct {
	// ProxyURL is the proxy to route through. Empty means direct.
	// Supported schemes are http, https, socks5 and socks5h.
	ProxyURL string

	// VerifyTLS enables certificate verification.
	VerifyTLS bool

	// MaxRedirects limits how many redirects are followed. When the limit
	// is reached the last response is returned as is.
	MaxRedirects int

	// Timeout bounds a whole exchange. Zero means no client-level timeout;
	// callers usually bound requests through their context instead.
	Timeout time.Duration
}

// NewClient creates an HTTP client for the egress described by opts.
func NewClient(opts ClientOptions) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS, //nolint:gosec // verification is an explicit per-request option
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
			}
			transport.DialContext = contextDialer(dialer)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}, nil
}

// contextDialer adapts a proxy.Dialer to the DialContext signature. Dialers
// that do not support contexts are run in a goroutine so cancellation still
// returns promptly.
func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialResult struct {
			conn net.Conn
			err  error
		}
		resultCh := make(chan dialResult, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			resultCh <- dialResult{conn, err}
		}()

		select {
		case result := <-resultCh:
			return result.conn, result.err
		case <-ctx.Done():
			go func() {
				if result := <-resultCh; result.conn != nil {
					_ = result.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// Pool caches clients per egress.
type Pool struct {
	mu           sync.Mutex
	clients      map[poolKey]*http.Client
	maxRedirects int
}

type poolKey struct {
	proxy     string
	verifyTLS bool
}

// NewPool creates an empty client pool. maxRedirects applies to every
// client it builds.
func NewPool(maxRedirects int) *Pool {
	return &Pool{
		clients:      make(map[poolKey]*http.Client),
		maxRedirects: maxRedirects,
	}
}

// Client returns the cached client for the egress, building it on first use.
func (p *Pool) Client(proxyURL string, verifyTLS bool) (*http.Client, error) {
	key := poolKey{proxy: proxyURL, verifyTLS: verifyTLS}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := NewClient(ClientOptions{
		ProxyURL:     proxyURL,
		VerifyTLS:    verifyTLS,
		MaxRedirects: p.maxRedirects,
	})
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

// Len returns the number of cached clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// CloseIdle closes idle connections of every cached client.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
}
