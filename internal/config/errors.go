package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no URL is given to fetch or crawl.
	ErrNoTarget = errors.New("no target specified: provide a URL or use --list")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidDelay is returned when the delay is negative.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrInvalidMaxRetries is returned when the retry count is negative.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid workers: must be positive")

	// ErrInvalidQueue is returned when the queue window is not positive.
	ErrInvalidQueue = errors.New("invalid queue size: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidCompressionLevel is returned for a level outside 0..9.
	ErrInvalidCompressionLevel = errors.New("invalid compression level: must be between 0 and 9")

	// ErrInvalidStatus is returned for a status code outside 100..599.
	ErrInvalidStatus = errors.New("invalid status code: must be between 100 and 599")

	// ErrEmptySuccessStatus is returned when no status counts as success.
	ErrEmptySuccessStatus = errors.New("success status list must not be empty")

	// ErrInvalidRateLimit is returned when the rate limit is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrInvalidMaxFailures is returned when the proxy failure limit is negative.
	ErrInvalidMaxFailures = errors.New("invalid max proxy failures: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
