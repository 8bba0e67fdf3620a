package http

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter caps inbound frames per connection as a per-minute token bucket.
// A nil limiter or a non-positive limit allows everything.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
