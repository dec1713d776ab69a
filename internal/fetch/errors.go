package fetch

import "errors"

var (
	// ErrInvalidMaxRetries is returned when MaxRetries is negative.
	ErrInvalidMaxRetries = errors.New("max retries must be 0 or greater")

	// ErrInvalidTimeout is returned when Timeout is negative.
	ErrInvalidTimeout = errors.New("timeout must be 0 or greater")

	// ErrInvalidDelay is returned when Delay is negative.
	ErrInvalidDelay = errors.New("delay must be 0 or greater")

	// ErrEmptySuccessSet is returned when the policy has no success status.
	ErrEmptySuccessSet = errors.New("success status set must not be empty")

	// ErrNoStore is returned by cache helpers when the engine has no store.
	ErrNoStore = errors.New("fetch: engine has no cache store")
)
