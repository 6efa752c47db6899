package resilience

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryMaxServerDelay caps delays requested by the remote side (Retry-After).
	RetryMaxServerDelay time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    4,
		RetryInitialBackoff: 500 * time.Millisecond,
		RetryMaxBackoff:     8 * time.Second,
		RetryMultiplier:     2.0,
		RetryMaxServerDelay: 60 * time.Second,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.RetryMaxServerDelay <= 0 {
		out.RetryMaxServerDelay = def.RetryMaxServerDelay
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// Policy derives the retry policy described by the config.
func (c Config) Policy() RetryPolicy {
	n := c.normalize()
	return RetryPolicy{
		MaxAttempts:    n.RetryMaxAttempts,
		Backoff:        ExponentialBackoff(n.RetryInitialBackoff, n.RetryMaxBackoff, n.RetryMultiplier),
		MaxServerDelay: n.RetryMaxServerDelay,
	}
}

// BackoffFunc returns the wait before the next attempt. attempt starts at 1.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy bounds how often and how long an operation is retried.
type RetryPolicy struct {
	MaxAttempts    int
	Backoff        BackoffFunc
	MaxServerDelay time.Duration
}

// Delay picks the server-supplied delay when err carries one, otherwise the backoff.
func (p RetryPolicy) Delay(attempt int, err error) (time.Duration, bool) {
	if delay, ok := RetryDelay(err); ok {
		if p.MaxServerDelay > 0 && delay > p.MaxServerDelay {
			delay = p.MaxServerDelay
		}
		return delay, true
	}
	if p.Backoff == nil {
		return 0, false
	}
	return p.Backoff(attempt), false
}

func ExponentialBackoff(initial, maxBackoff time.Duration, multiplier float64) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		wait := float64(initial) * math.Pow(multiplier, float64(attempt-1))
		if wait > float64(maxBackoff) {
			return maxBackoff
		}
		return time.Duration(wait)
	}
}

// RetryAfterError is implemented by errors that carry a delay requested by the server.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// ThrottledError reports a rate-limited response.
type ThrottledError struct {
	StatusCode int
	Delay      time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	msg := fmt.Sprintf("throttled (status %d, retry after %s)", e.StatusCode, e.Delay)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ThrottledError) Unwrap() error { return e.Err }

func (e *ThrottledError) RetryAfter() time.Duration { return e.Delay }

func RetryDelay(err error) (time.Duration, bool) {
	var retryErr RetryAfterError
	if errors.As(err, &retryErr) && retryErr.RetryAfter() > 0 {
		return retryErr.RetryAfter(), true
	}
	return 0, false
}
