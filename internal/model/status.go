package model

import (
	"slices"
	"strconv"
	"strings"
)

// StatusSet is a set of HTTP status codes.
type StatusSet map[int]struct{}

// NewStatusSet builds a StatusSet from codes.
func NewStatusSet(codes ...int) StatusSet {
	s := make(StatusSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// DefaultSuccessStatus returns the statuses that count as a successful fetch.
func DefaultSuccessStatus() StatusSet {
	return NewStatusSet(200, 201)
}

// DefaultNonRetriableStatus returns the statuses that stop the retry loop
// immediately.
func DefaultNonRetriableStatus() StatusSet {
	return NewStatusSet(404)
}

// Has reports whether code is in the set.
func (s StatusSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the codes in ascending order.
func (s StatusSet) Codes() []int {
	codes := make([]int, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// String renders the set as a comma separated list.
func (s StatusSet) String() string {
	codes := s.Codes()
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}

// Policy classifies responses for the retry loop.
type Policy struct {
	// Success holds statuses that end the retry loop successfully.
	Success StatusSet

	// NonRetriable holds statuses that end the retry loop as a failure.
	NonRetriable StatusSet
}

// DefaultPolicy returns the default success and non-retriable sets.
func DefaultPolicy() Policy {
	return Policy{
		Success:      DefaultSuccessStatus(),
		NonRetriable: DefaultNonRetriableStatus(),
	}
}

// IsSuccess reports whether resp counts as a successful response.
func (p Policy) IsSuccess(resp *Response) bool {
	return resp != nil && p.Success.Has(resp.StatusCode)
}

// IsTerminal reports whether the retry loop should stop on resp regardless
// of remaining attempts.
func (p Policy) IsTerminal(resp *Response) bool {
	if resp == nil {
		return false
	}
	return p.Success.Has(resp.StatusCode) || p.NonRetriable.Has(resp.StatusCode)
}

// ShouldRetry reports whether another attempt is warranted after attempt
// (zero based) produced resp, given maxRetries.
func (p Policy) ShouldRetry(resp *Response, attempt, maxRetries int) bool {
	if p.IsTerminal(resp) {
		return false
	}
	return attempt < maxRetries
}
