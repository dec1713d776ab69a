// Package model defines the request and response types shared by the
// fetch engine, the crawl loop and the cache.
//
// A Request is identified by its cache key, derived from the URL and body
// only. A Response is a plain value with no back-reference to its Request,
// which lets it be serialized into the cache and served to any caller
// asking for the same key.
//
// Whether a Response is a success, a terminal failure or worth retrying is
// decided by a Policy, which holds the configurable success and
// non-retriable status sets.
//
// CrawlReport collects the counters and visited pages of one crawl run for
// the report writers.
package model
