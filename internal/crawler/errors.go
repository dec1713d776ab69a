package crawler

import "errors"

var (
	// ErrNilEngine is returned by New when no fetch engine is given.
	ErrNilEngine = errors.New("crawler: fetch engine is nil")

	// ErrInvalidWorkers is returned when MaxWorkers is less than 1.
	ErrInvalidWorkers = errors.New("max workers must be at least 1")

	// ErrInvalidQueue is returned when MaxQueue is less than 1.
	ErrInvalidQueue = errors.New("max queue must be at least 1")
)

// ErrContinuationPanic wraps the value recovered from a panicking
// continuation.
var ErrContinuationPanic = errors.New("continuation panicked")
