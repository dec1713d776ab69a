// Package config provides the configuration of crawlcache: fetch and crawl
// settings, cache location, proxy sources and report preferences, plus the
// optional YAML file with per-site overrides.
package config
