package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"golang.org/x/crypto/sha3"
)

// StatusTransportFailure is the status synthesized when a request never
// produced an HTTP response (connection refused, timeout, TLS failure).
const StatusTransportFailure = http.StatusInternalServerError

// Response is the outcome of a fetch. It carries no reference to the
// request that produced it, so it can be cached and shared freely.
type Response struct {
	// Body is the response payload. When auto-decoding is enabled it has
	// been transcoded to UTF-8.
	Body []byte `msgpack:"body" json:"-"`

	// StatusCode is the HTTP status, or StatusTransportFailure.
	StatusCode int `msgpack:"status" json:"status_code"`

	// Reason is the HTTP reason phrase, or the transport error text.
	Reason string `msgpack:"reason" json:"reason"`

	// RedirectedTo is the final URL when it differs from the requested URL.
	RedirectedTo string `msgpack:"redirect,omitempty" json:"redirected_to,omitempty"`

	// ContentType is the Content-Type header of the final response.
	ContentType string `msgpack:"ctype,omitempty" json:"content_type,omitempty"`

	// Encoding is the charset the body was decoded from, empty when the
	// body is raw.
	Encoding string `msgpack:"enc,omitempty" json:"encoding,omitempty"`
}

// NewTransportFailure builds the synthetic response recorded for err.
func NewTransportFailure(err error) *Response {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &Response{StatusCode: StatusTransportFailure, Reason: reason}
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil || len(r.Body) == 0 {
		return fmt.Errorf("decode json: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Regex returns the submatches of the first match of expr in the body,
// or nil when nothing matches.
func (r *Response) Regex(expr string) ([]string, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return re.FindStringSubmatch(r.Text()), nil
}

// FindAll returns every match of expr in the body. When expr has exactly
// one capture group the group value is returned instead of the full match.
func (r *Response) FindAll(expr string) ([]string, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	matches := re.FindAllStringSubmatch(r.Text(), -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) == 2 {
			out = append(out, m[1])
			continue
		}
		out = append(out, m[0])
	}
	return out, nil
}

// Digest returns the hex SHA3-256 of the body.
func (r *Response) Digest() string {
	if r == nil {
		return ""
	}
	sum := sha3.Sum256(r.Body)
	return hex.EncodeToString(sum[:])
}

// String returns a short human readable form.
func (r *Response) String() string {
	if r == nil {
		return "<nil>"
	}
	text := r.Text()
	if len(text) > 100 {
		text = text[:100]
	}
	return fmt.Sprintf("%d: %s", r.StatusCode, text)
}
