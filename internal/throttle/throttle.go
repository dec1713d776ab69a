package throttle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GlobalRoute is the route key used for requests that bypass proxies.
const GlobalRoute = ""

// Throttle schedules requests per route. The zero value is not usable;
// construct it with New.
type Throttle struct {
	mu   sync.Mutex
	next map[string]time.Time

	// limiter caps the total request rate across every route. Nil disables it.
	limiter *rate.Limiter

	// jitter returns a factor in [0.5, 1.5).
	jitter func() float64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithRateLimit caps the combined rate of all routes to rps requests per
// second with the given burst. A non-positive rps disables the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(t *Throttle) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithJitter replaces the jitter source. fn must return a factor in
// [0.5, 1.5). Tests use it to make spacing deterministic.
func WithJitter(fn func() float64) Option {
	return func(t *Throttle) {
		if fn != nil {
			t.jitter = fn
		}
	}
}

// New creates a Throttle.
func New(opts ...Option) *Throttle {
	t := &Throttle{
		next:   make(map[string]time.Time),
		jitter: func() float64 { return 0.5 + rand.Float64() },
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Wait blocks until route may issue its next request. The first call for a
// route returns immediately; each later call is scheduled at least
// minDelay*jitter after the previous reservation for the same route.
//
// A non-positive minDelay reserves nothing and returns at once (subject to
// the global rate limit). Wait returns ctx.Err() if ctx ends first.
func (t *Throttle) Wait(ctx context.Context, route string, minDelay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if minDelay > 0 {
		if d := t.reserve(route, minDelay); d > 0 {
			if err := t.sleep(ctx, d); err != nil {
				return err
			}
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	return nil
}

// reserve claims the next slot for route and returns how long the caller
// must sleep before using it.
func (t *Throttle) reserve(route string, minDelay time.Duration) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	slot := now
	if next, ok := t.next[route]; ok && next.After(now) {
		slot = next
	}
	gap := time.Duration(float64(minDelay) * t.jitter())
	t.next[route] = slot.Add(gap)
	return slot.Sub(now)
}

// Forget drops the schedule for route.
func (t *Throttle) Forget(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.next, route)
}

// Routes returns the number of routes with a pending schedule.
func (t *Throttle) Routes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.next)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
