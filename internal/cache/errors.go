package cache

import "errors"

var (
	// ErrNotFound is returned when a key has never been stored (or was deleted).
	ErrNotFound = errors.New("cache: key not found")

	// ErrStale is returned by freshness-aware lookups when the key exists but
	// has expired or was marked stale-pending.
	ErrStale = errors.New("cache: key is stale")

	// ErrInvalidMeta is returned when metadata fails validation.
	ErrInvalidMeta = errors.New("cache: invalid metadata")

	// ErrEmptyKey is returned when an operation is given an empty key.
	ErrEmptyKey = errors.New("cache: empty key")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: store is closed")
)
