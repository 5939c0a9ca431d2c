package inference

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to the reasoning engine with a token bucket
type RateLimiter struct {
	limiter  *rate.Limiter
	burst    int
	mu       sync.Mutex
	requests int64
	waited   time.Duration
}

// RateLimitStatus reports the limiter state
type RateLimitStatus struct {
	RequestsPerSecond float64
	Burst             int
	Available         float64
	Requests          int64
	TotalWait         time.Duration
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst.
// rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst), burst: burst}
}

// Wait blocks until a request is allowed or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.requests++
	r.waited += time.Since(start)
	r.mu.Unlock()
	return nil
}

// Status returns current rate limit status
func (r *RateLimiter) Status() RateLimitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RateLimitStatus{
		RequestsPerSecond: float64(r.limiter.Limit()),
		Burst:             r.burst,
		Available:         r.limiter.Tokens(),
		Requests:          r.requests,
		TotalWait:         r.waited,
	}
}
