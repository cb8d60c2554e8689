// Package retry re-runs failing crawl operations according to a policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Policy decides whether and when a failed attempt is repeated.
// attempt is the number of attempts made so far, starting at 1.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Defaults used when a policy is built with zero values.
const (
	DefaultAttempts = 3
	DefaultInterval = 500 * time.Millisecond
	DefaultMaxDelay = 5 * time.Second
)

// FixedPolicy retries up to Attempts times with a constant pause.
type FixedPolicy struct {
	Attempts int
	Interval time.Duration
}

// NewFixedPolicy builds a FixedPolicy, substituting defaults for non-positive values.
func NewFixedPolicy(attempts int, interval time.Duration) *FixedPolicy {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if interval < 0 {
		interval = DefaultInterval
	}
	return &FixedPolicy{Attempts: attempts, Interval: interval}
}

// ShouldRetry implements Policy.
func (p *FixedPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.Attempts && Retryable(err)
}

// Backoff implements Policy.
func (p *FixedPolicy) Backoff(int) time.Duration {
	return p.Interval
}

// ExponentialPolicy doubles the pause after every attempt and adds jitter.
type ExponentialPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewExponentialPolicy builds an ExponentialPolicy with defaults for zero values.
func NewExponentialPolicy(attempts int, base, maxDelay time.Duration) *ExponentialPolicy {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &ExponentialPolicy{Attempts: attempts, BaseDelay: base, MaxDelay: maxDelay}
}

// ShouldRetry implements Policy.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.Attempts && Retryable(err)
}

// Backoff returns half the capped exponential delay plus up to the other half as jitter.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retryable reports whether err may succeed on another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsPermanent(err)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that no policy retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
