package ecommerce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket shared by every caller of the upstream API
// in this process. Acquire blocks until a slot frees.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
	qps     float64

	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // in nanoseconds
}

// RateLimiterStats contains statistics about rate limiter usage.
type RateLimiterStats struct {
	TotalAcquired int64
	CurrentQPS    float64
	AvgWaitTime   time.Duration
}

// NewRateLimiter creates a token bucket limiter.
func NewRateLimiter(qps float64, burst int) *RateLimiter {
	if qps <= 0 {
		qps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
		qps:     qps,
	}
}

// Acquire blocks until a request slot is available or ctx is done.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.totalAcquired.Add(1)
	l.totalWaitTime.Add(int64(time.Since(start)))
	return nil
}

// SetRate adjusts the rate limit. The new rate takes effect immediately.
func (l *RateLimiter) SetRate(qps float64) {
	if qps <= 0 {
		qps = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.qps = qps
	l.limiter.SetLimit(rate.Limit(qps))
}

// Stats returns current statistics about the rate limiter.
func (l *RateLimiter) Stats() RateLimiterStats {
	acquired := l.totalAcquired.Load()
	var avg time.Duration
	if acquired > 0 {
		avg = time.Duration(l.totalWaitTime.Load() / acquired)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return RateLimiterStats{
		TotalAcquired: acquired,
		CurrentQPS:    l.qps,
		AvgWaitTime:   avg,
	}
}
