package model

import (
	"net/http"
	"net/url"
	"strings"
)

// Request describes a single resource to fetch.
// A nil or empty Body means GET; a non-empty Body means POST.
//
// Requests are treated as immutable once handed to the engine or crawler.
type Request struct {
	// URL is the absolute URL to fetch.
	URL string `msgpack:"url" json:"url"`

	// Headers are explicit request headers. They override the engine's
	// default header set but never participate in the cache key.
	Headers map[string]string `msgpack:"headers,omitempty" json:"headers,omitempty"`

	// Body is the request payload. It is part of the cache key.
	Body []byte `msgpack:"body,omitempty" json:"body,omitempty"`
}

// NewRequest returns a GET request for rawURL.
func NewRequest(rawURL string) Request {
	return Request{URL: rawURL}
}

// NewFormRequest returns a POST request with form encoded into the body.
// url.Values.Encode sorts by key, so equal forms produce equal cache keys.
func NewFormRequest(rawURL string, form url.Values) Request {
	return Request{
		URL: rawURL,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
		},
		Body: []byte(form.Encode()),
	}
}

// Key returns the cache identity of the request: the URL, followed by a
// space and the body when a body is present.
func (r Request) Key() string {
	if len(r.Body) == 0 {
		return r.URL
	}
	return r.URL + " " + string(r.Body)
}

// Method returns the HTTP method implied by the body.
func (r Request) Method() string {
	if len(r.Body) > 0 {
		return http.MethodPost
	}
	return http.MethodGet
}

// Header returns the value of an explicit header, matched case-insensitively.
func (r Request) Header(name string) (string, bool) {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// WithHeader returns a copy of r with the header set.
// The receiver's header map is never mutated.
func (r Request) WithHeader(name, value string) Request {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		if !strings.EqualFold(k, name) {
			headers[k] = v
		}
	}
	headers[name] = value
	r.Headers = headers
	return r
}
