package scraper

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter enforces a per-host request rate so one crawl cannot hammer a
// single origin no matter how many workers pull its jobs.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newHostLimiter creates a limiter allowing rps requests per second per host.
// A non-positive rps disables limiting.
func newHostLimiter(rps float64) *hostLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    1,
	}
}

// wait blocks until the host's rate allows another request or ctx ends
func (h *hostLimiter) wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil
	}

	h.mu.Lock()
	limiter, ok := h.limiters[parsed.Host]
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[parsed.Host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
