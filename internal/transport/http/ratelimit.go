package http

import "golang.org/x/time/rate"

// rateLimiter throttles inbound websocket frames of one connection.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter returns nil, which allows everything, when perSecond <= 0.
func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
