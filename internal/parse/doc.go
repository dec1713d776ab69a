// Package parse extracts data from downloaded HTML.
//
// Document wraps a goquery document together with the URL it was fetched
// from, so extracted links and form actions come back absolute. The
// package also carries the link filters used by crawl continuations and
// an email extractor that sees through common obfuscations.
package parse
