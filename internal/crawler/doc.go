// Package crawler runs a concurrent, cache-aware crawl.
//
// A crawl starts from seed tasks. Each task pairs a request with a
// continuation that receives the response and yields follow-up tasks
// (Follow) or results for the caller (Emit). Run returns the results as an
// iter.Seq.
//
// # Scheduling
//
// Pending tasks are taken in windows of at most MaxQueue, newest first.
// Every request of a window is checked against the cache in one bulk
// query. Fresh hits are handled inline on the loop goroutine; misses are
// fetched by up to MaxWorkers goroutines and handled in completion order.
// The loop persists each fetched response before running its
// continuation.
//
// Continuations never run concurrently, so they may share state without
// locking. A continuation that returns an error or panics is logged and
// skipped; the crawl goes on.
//
// When deduplication is on (the default), a request whose cache key was
// already seen during the run is dropped.
//
// # Cancellation
//
// Cancelling the context passed to Run, or breaking out of the range loop,
// stops new fetches. In-flight fetches observe the cancelled context and
// the sequence ends once they have drained.
//
// # Usage
//
//	c, err := crawler.New[string](engine, store, crawler.WithMaxWorkers(8))
//	for title := range c.Run(ctx, seeds) {
//		fmt.Println(title)
//	}
package crawler
