package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	appconfig "optionflow/config"
	"optionflow/internal/metrics"
	"optionflow/logger"
)

// CircuitBreaker guards the upstream behind consecutive-failure tripping.
// While open it rejects calls without contacting the provider; after the
// recovery timeout it admits a limited number of probes and closes again on
// probe success.
type CircuitBreaker struct {
	cb  *gobreaker.CircuitBreaker[struct{}]
	log *logger.Log
}

// NewCircuitBreaker builds the breaker from provider configuration.
func NewCircuitBreaker(name string, cfg appconfig.CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 5
	}
	maxRequests := cfg.HalfOpenMaxRequests
	if maxRequests < 1 {
		maxRequests = 1
	}

	log := logger.GetLogger()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Interval:    cfg.TrackingPeriod,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		// Only errors that reached the upstream and came back unhealthy
		// count toward tripping. Missing instruments and local
		// cancellation say nothing about provider health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithComponent("circuit_breaker").WithFields(logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
			metrics.EmitMetric(log, "circuit_breaker", "state_change", int64(1), "counter", logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}

	return &CircuitBreaker{
		cb:  gobreaker.NewCircuitBreaker[struct{}](settings),
		log: log,
	}
}

// Execute runs fn under the breaker. Rejections surface as ErrCircuitOpen;
// any other error is fn's own.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	switch err {
	case gobreaker.ErrOpenState:
		return ErrCircuitOpen
	case gobreaker.ErrTooManyRequests:
		return fmt.Errorf("%w: probe already in flight", ErrCircuitOpen)
	}
	return err
}

// State returns the breaker state, applying any pending open-to-half-open
// transition first.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Open reports whether calls would currently be rejected outright. Half-open
// is not open: probes must reach the limiter and the upstream.
func (b *CircuitBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Counts exposes the rolling request counters for status reporting.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
