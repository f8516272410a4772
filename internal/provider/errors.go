package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"optionflow/internal/models"
)

// Sentinel errors for the provider pipeline. Callers classify failures with
// errors.Is rather than string matching.
var (
	// ErrRateLimitTimeout is returned when a request could not acquire a
	// rate-limiter token before its deadline. The request never reached the
	// upstream, so it carries no signal about upstream health.
	ErrRateLimitTimeout = errors.New("rate limiter wait exceeded deadline")

	// ErrCircuitOpen is returned when the circuit breaker rejects a request
	// without contacting the upstream.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrUpstream wraps transport and status failures from the provider.
	ErrUpstream = errors.New("upstream request failed")

	// ErrUpstreamThrottled marks upstream responses that signal throttling
	// or an address ban. It is a subclass of upstream failure.
	ErrUpstreamThrottled = errors.New("upstream throttled")

	// ErrBatchFlush is fanned out to every waiter of a coalesced batch
	// whose flush failed.
	ErrBatchFlush = errors.New("batch flush failed")

	// ErrNotFound is returned when the upstream has no data for the
	// requested instrument.
	ErrNotFound = errors.New("instrument not found")
)

// upstreamError carries the HTTP status and body excerpt from a failed
// provider call so operators can tell throttling from outage in logs.
type upstreamError struct {
	status int
	msg    string
}

func (e *upstreamError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("upstream status %d: %s", e.status, e.msg)
	}
	return fmt.Sprintf("upstream: %s", e.msg)
}

func (e *upstreamError) Unwrap() error {
	if e.status == 429 || detectThrottle(e.msg) {
		return ErrUpstreamThrottled
	}
	return ErrUpstream
}

func newUpstreamError(status int, msg string) error {
	return &upstreamError{status: status, msg: msg}
}

// detectThrottle inspects an upstream message for throttling or ban wording.
// NSE does not document its throttle responses, so matching stays broad.
func detectThrottle(msg string) bool {
	lowerMsg := strings.ToLower(msg)
	if strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit") {
		return true
	}
	return strings.Contains(lowerMsg, "ip") && (strings.Contains(lowerMsg, "ban") || strings.Contains(lowerMsg, "blocked"))
}

// Classify maps an error to its taxonomy kind for outcome reporting.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return models.ErrKindNone
	case errors.Is(err, ErrRateLimitTimeout):
		return models.ErrKindRateLimitTimeout
	case errors.Is(err, ErrCircuitOpen):
		return models.ErrKindCircuitOpen
	case errors.Is(err, ErrBatchFlush):
		return models.ErrKindBatchFlush
	case errors.Is(err, ErrUpstreamThrottled), errors.Is(err, ErrUpstream), errors.Is(err, ErrNotFound):
		return models.ErrKindUpstream
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrKindDeadline
	default:
		return models.ErrKindInternal
	}
}

// Retryable reports whether the retry loop should attempt the call again.
// Breaker rejections, limiter deadline hits and canceled contexts never
// retry: another attempt inside the same deadline cannot end differently.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, ErrRateLimitTimeout):
		return false
	case errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
