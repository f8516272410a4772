package provider

import (
	"context"
	"errors"

	appconfig "optionflow/config"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket shared by every request the client sends
// upstream. Tokens refill at the configured steady rate and the bucket holds
// at most the configured burst, so a quiet period never builds up more than
// a short surge of credit.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds the shared token bucket from provider configuration.
func NewRateLimiter(cfg appconfig.RateLimitConfig) *RateLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = int(2 * rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Acquire blocks until a token is available or the context deadline passes.
// A deadline hit is reported as ErrRateLimitTimeout since the request never
// left the process.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return ErrRateLimitTimeout
	}
	return nil
}

// Tokens returns the current token balance for observability. The value is
// a point-in-time sample and may be negative while callers are queued.
func (l *RateLimiter) Tokens() float64 {
	return l.limiter.Tokens()
}

// Limit returns the configured steady-state rate in requests per second.
func (l *RateLimiter) Limit() float64 {
	return float64(l.limiter.Limit())
}

// Burst returns the bucket capacity.
func (l *RateLimiter) Burst() int {
	return l.limiter.Burst()
}
