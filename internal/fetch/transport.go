package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/crawlcache/internal/model"
	"github.com/nao1215/crawlcache/internal/transport"
)

// DefaultMaxBodySize caps how much of a response body is read.
const DefaultMaxBodySize int64 = 10 * 1024 * 1024

// Attempt is one network exchange requested by the engine.
type Attempt struct {
	// Request is the logical request.
	Request model.Request

	// Headers are the merged headers to send.
	Headers map[string]string

	// Proxy is the proxy URL to route through, empty for direct.
	Proxy string

	// VerifyTLS enables certificate verification.
	VerifyTLS bool

	// AutoDecode asks for text bodies to be transcoded to UTF-8.
	AutoDecode bool
}

// Transport performs attempts. An error means no HTTP response was
// obtained; any HTTP status, including 5xx, is a response.
//
// Implementations must be safe for concurrent use. A scripted browser can
// be plugged in here in place of HTTPTransport.
type Transport interface {
	RoundTrip(ctx context.Context, a Attempt) (*model.Response, error)
}

// HTTPTransport performs attempts with net/http clients from a
// transport.Pool.
type HTTPTransport struct {
	pool        *transport.Pool
	maxBodySize int64
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithMaxBodySize caps the number of body bytes read per response.
func WithMaxBodySize(n int64) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if n > 0 {
			t.maxBodySize = n
		}
	}
}

// WithMaxRedirects sets the redirect limit of every client.
func WithMaxRedirects(n int) HTTPTransportOption {
	return func(t *HTTPTransport) {
		t.pool = transport.NewPool(n)
	}
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		pool:        transport.NewPool(transport.DefaultMaxRedirects),
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, a Attempt) (*model.Response, error) {
	client, err := t.pool.Client(a.Proxy, a.VerifyTLS)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(a.Request.Body) > 0 {
		body = bytes.NewReader(a.Request.Body)
	}
	req, err := http.NewRequestWithContext(ctx, a.Request.Method(), a.Request.URL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	out := &model.Response{
		Body:        data,
		StatusCode:  resp.StatusCode,
		Reason:      reasonPhrase(resp),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		if final := resp.Request.URL.String(); final != req.URL.String() {
			out.RedirectedTo = final
		}
	}
	if a.AutoDecode && isText(out.ContentType) {
		if decoded, enc, err := transport.DecodeBody(data, out.ContentType); err == nil {
			out.Body = decoded
			out.Encoding = enc
		}
	}
	return out, nil
}

// CloseIdle releases idle connections.
func (t *HTTPTransport) CloseIdle() {
	t.pool.CloseIdle()
}

func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// isText reports whether a body of contentType should be decoded as text.
func isText(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if _, ok := params["charset"]; ok {
		return true
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case strings.HasSuffix(mediaType, "+xml"), strings.HasSuffix(mediaType, "+json"):
		return true
	}
	switch mediaType {
	case "application/xml", "application/json", "application/javascript", "application/xhtml+xml":
		return true
	}
	return false
}
