package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/showtimes-crawler/internal/crawlctx"
	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// RateLimited throttles requests per host.
type RateLimited struct {
	chain
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimited allows perSecond requests per host with the given burst.
func NewRateLimited(next Transport, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		chain:    chain{next: next},
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Send implements Transport.
func (r *RateLimited) Send(ctx context.Context, req Request, cc *crawlctx.Context) (*Response, error) {
	site := metrics.SanitizeSite(req.URL)
	start := time.Now()
	if err := r.limiter(site).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return r.next.Send(ctx, req, cc)
}

func (r *RateLimited) limiter(site string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[site]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[site] = l
	}
	return l
}
