// Package throttle spaces requests that share an egress route.
//
// A route is identified by a string, usually the proxy URL, or GlobalRoute
// for direct connections. Each call to Wait reserves the next slot for its
// route and then sleeps until that slot, so two requests on one route are
// separated by at least half the configured delay while requests on
// different routes do not wait for each other.
//
// The delay is jittered uniformly between 0.5x and 1.5x to avoid a fixed
// request cadence.
package throttle
