package execution

import (
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryPolicy bounds how venue calls are retried. Only transient failures
// (timeouts, rate limits, dropped connections) are retried; permanent ones
// (invalid symbol, rejected order) go back to the caller on the first attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFactor   float64
}

// DefaultRetryPolicy matches typical venue rate-limit behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// ShouldRetry reports whether the error warrants another attempt.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return classifyTransient(err)
}

// Backoff returns the pause before the given attempt (1-based), exponential
// with jitter to avoid thundering herds against a recovering venue.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.BackoffFactor
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	backoff += rand.Float64() * p.JitterFactor * backoff
	return time.Duration(backoff)
}

// classifyTransient decides retryability. Explicit execution.Error
// classification wins; otherwise network timeouts and connection-level
// failures count as transient.
func classifyTransient(err error) bool {
	if err == nil {
		return false
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return true
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return true
	}
	if strings.Contains(msg, "connection") &&
		(strings.Contains(msg, "reset") || strings.Contains(msg, "refused") || strings.Contains(msg, "closed")) {
		return true
	}
	if strings.Contains(msg, "EOF") {
		return true
	}
	return false
}
