package statusclient

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched status is served without a network call.
const DefaultTTL = 30 * time.Second

// DefaultRetryDelay is the fixed pause before the single retry of a failed
// (non-timeout) fetch.
const DefaultRetryDelay = 2 * time.Second

// FallbackPlanID is the plan reported by the conservative default. Billing
// unavailability must never block the UI, so the default grants access.
const FallbackPlanID = "free"

// FetchFunc performs one uncached status fetch.
type FetchFunc func(ctx context.Context) (Status, error)

// Cache is the process-wide subscription-status cache: TTL expiry, in-flight
// request deduplication, timeout fallback and bounded retry. Status never
// blocks; Refresh joins the outstanding fetch when one exists. Errors are
// logged and swallowed; callers always get a usable Status.
type Cache struct {
	fetch      FetchFunc
	ttl        time.Duration
	timeout    time.Duration
	retryDelay time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu  sync.Mutex
	cur *Status
	gen uint64 // bumped by Invalidate; stale flights must not repopulate
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithRetryDelay overrides the fixed delay before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Cache) { c.retryDelay = d }
}

// WithClock injects a clock, making TTL expiry deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSleep injects the retry-delay sleeper, so retry tests need no
// wall-clock waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) { c.sleep = sleep }
}

// NewCache creates a Cache around the given fetch function.
func NewCache(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:      fetch,
		ttl:        DefaultTTL,
		timeout:    DefaultStatusTimeout,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the best-known status immediately. A fresh cached value is
// returned as-is; a stale or missing one triggers a background refresh while
// the caller gets the stale value (or the conservative default) right away.
func (c *Cache) Status() Status {
	c.mu.Lock()
	cur := c.cur
	age := time.Duration(0)
	if cur != nil {
		age = c.now().Sub(cur.FetchedAt)
	}
	c.mu.Unlock()

	if cur != nil && age < c.ttl {
		return *cur
	}

	go c.Refresh(context.Background())

	if cur != nil {
		return *cur
	}
	return c.fallback()
}

// Refresh fetches the current status, joining an already outstanding fetch
// instead of issuing a second one. It always returns a usable Status; fetch
// failures degrade to the conservative default.
func (c *Cache) Refresh(ctx context.Context) Status {
	v, _, _ := c.group.Do("status", func() (interface{}, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		status := c.fetchWithFallback(ctx)
		c.store(gen, status)
		return status, nil
	})
	return v.(Status)
}

// Invalidate drops the cached value and detaches from any in-flight fetch;
// its result will be discarded. Call on logout.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cur = nil
	c.gen++
	c.mu.Unlock()
	c.group.Forget("status")
}

func (c *Cache) fetchWithFallback(ctx context.Context) Status {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	status, err := c.fetch(fctx)
	cancel()
	if err == nil {
		status.FetchedAt = c.now()
		return status
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// The fetch itself cannot be canceled; its result is ignored.
		log.Printf("statusclient: status fetch timed out, using fallback: %v", err)
		return c.fallback()
	}

	// One retry after a fixed delay, then give up quietly.
	if sleepErr := c.sleep(ctx, c.retryDelay); sleepErr != nil {
		log.Printf("statusclient: status fetch failed, using fallback: %v", err)
		return c.fallback()
	}

	fctx, cancel = context.WithTimeout(ctx, c.timeout)
	status, err = c.fetch(fctx)
	cancel()
	if err == nil {
		status.FetchedAt = c.now()
		return status
	}
	log.Printf("statusclient: status fetch failed after retry, using fallback: %v", err)
	return c.fallback()
}

// store writes the fetch result unless Invalidate ran since the fetch began.
func (c *Cache) store(gen uint64, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.cur = &status
}

func (c *Cache) fallback() Status {
	return Status{
		Subscribed: true,
		PlanID:     FallbackPlanID,
		FetchedAt:  c.now(),
		Degraded:   true,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
