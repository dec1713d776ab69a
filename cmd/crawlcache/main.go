// Package main provides the entry point for the crawlcache CLI.
//
// crawlcache downloads web pages through a persistent sqlite cache, a
// rotating proxy pool and a per-route throttle, and crawls sites by
// following the links it finds.
//
// Usage:
//
//	crawlcache fetch <url>...
//	crawlcache crawl <seed-url>...
//	crawlcache cache count
//
// See --help for all available options.
package main

func main() {
	Execute()
}
