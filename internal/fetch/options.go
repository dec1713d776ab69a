package fetch

import "time"

// settings are the effective options of one Fetch call.
type settings struct {
	maxRetries int
	timeout    time.Duration
	delay      time.Duration
	readCache  bool
	writeCache bool
	useProxy   bool
	verifyTLS  bool
	autoDecode bool
	userAgent  string
	key        string
}

// Option overrides an engine default for a single Fetch call.
type Option func(*settings)

// WithMaxRetries sets how many attempts follow the first one.
// Negative values are treated as zero.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.maxRetries = max(n, 0)
	}
}

// WithTimeout bounds each network attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithDelay sets the minimum spacing between attempts on one route.
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		s.delay = d
	}
}

// WithReadCache enables or disables the cache lookup.
func WithReadCache(enabled bool) Option {
	return func(s *settings) {
		s.readCache = enabled
	}
}

// WithWriteCache enables or disables persisting the final response.
func WithWriteCache(enabled bool) Option {
	return func(s *settings) {
		s.writeCache = enabled
	}
}

// WithProxy enables or disables the proxy rotator.
func WithProxy(enabled bool) Option {
	return func(s *settings) {
		s.useProxy = enabled
	}
}

// WithVerifyTLS enables or disables certificate verification.
func WithVerifyTLS(enabled bool) Option {
	return func(s *settings) {
		s.verifyTLS = enabled
	}
}

// WithAutoDecode enables or disables transcoding text bodies to UTF-8.
func WithAutoDecode(enabled bool) Option {
	return func(s *settings) {
		s.autoDecode = enabled
	}
}

// WithUserAgent sets the User-Agent used when the request has none.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		s.userAgent = ua
	}
}

// WithKey stores and looks up the response under key instead of the
// request's own key.
func WithKey(key string) Option {
	return func(s *settings) {
		s.key = key
	}
}
