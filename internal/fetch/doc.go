// Package fetch implements the cache-backed download engine.
//
// Engine.Fetch resolves a request to a response. A fresh cache entry is
// returned without touching the network, unless it records a status that
// still deserves a retry. Otherwise the engine makes up to maxRetries+1
// attempts, each one through the next proxy of the rotator (if any) and
// after waiting on the throttle for that proxy. The final response is
// written back to the cache whatever its status, so a stably failing URL
// is not hammered again until its entry expires.
//
// Fetch never returns an error. Transport failures become responses with
// status 500 and the error text as reason.
//
// # Usage
//
//	engine, err := fetch.New(cfg)
//	resp := engine.Fetch(ctx, model.NewRequest("https://example.com/"),
//		fetch.WithMaxRetries(2))
//	if engine.Policy().IsSuccess(resp) {
//		...
//	}
package fetch
