// Package transport builds the HTTP clients used to reach origin servers.
//
// A client is built per egress: direct, through an HTTP(S) proxy, or through
// a SOCKS5 proxy such as a local Tor daemon. Pool caches one client per
// proxy and TLS setting so connections are reused across requests.
//
// The package also decodes response bodies to UTF-8, probes SOCKS5 proxies
// and manages an embedded Tor daemon.
package transport
