package api

import (
	"context"
	"sync"
	"time"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

// RateLimiter is a sliding-window limiter shared by the outbound API
// clients. A nil limiter never blocks.
type RateLimiter struct {
	mu          sync.Mutex
	requests    []time.Time
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimiter allows maxRequests per window. It returns nil when
// maxRequests is not positive.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		requests:    make([]time.Time, 0, maxRequests),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Wait blocks until a request slot is free or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}

	for {
		sleep := rl.reserve()
		if sleep <= 0 {
			return nil
		}

		logger.LogWithFields(logger.InfoLevel, "API rate limit reached, waiting", map[string]any{
			"wait_seconds": sleep.Seconds(),
		})

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve takes a slot and returns zero, or returns how long until the
// oldest request leaves the window. The lock is never held while sleeping.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(rl.requests) && !rl.requests[i].After(cutoff) {
		i++
	}
	rl.requests = rl.requests[i:]

	if len(rl.requests) < rl.maxRequests {
		rl.requests = append(rl.requests, now)
		return 0
	}
	return rl.requests[0].Add(rl.window).Sub(now)
}
