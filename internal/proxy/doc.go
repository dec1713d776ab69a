// Package proxy rotates requests across a list of proxy URLs.
//
// The Rotator hands out proxies round robin. Each failure recorded against
// a proxy increments its consecutive failure count; a success resets it.
// A proxy that reaches the failure limit is evicted from rotation. When
// every proxy has been evicted, Next reports false and callers connect
// directly.
package proxy
