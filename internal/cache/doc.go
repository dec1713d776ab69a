// Package cache provides the persistent key/value store behind the fetch
// engine and the crawl loop.
//
// The store is a single SQLite file (via modernc.org/sqlite, no cgo). Each
// row holds a framed, zlib compressed value, a CBOR encoded metadata map, a
// status and the time of the last write. Writes always replace the whole
// row and refresh the timestamp.
//
// Freshness is a read-time policy: an entry is fresh while
// now - updated < expiry. Entries are never removed because they are old;
// they are removed only by Delete, Clear or a replacing Put.
//
// The store is safe for concurrent use by multiple goroutines. One process
// should write to a given file at a time; other processes may read it.
package cache
