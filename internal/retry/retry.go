package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/showtimes-crawler/internal/metrics"
)

// Retrier runs tasks under a Policy and logs every repeated attempt.
type Retrier struct {
	Policy Policy
	Logger *zap.Logger
	// Scope labels the retry counter, e.g. "transport" or "showtimes".
	Scope string
}

// Do runs task until it succeeds, the policy gives up or ctx is done. The last
// error is returned unchanged so callers can inspect it with errors.Is.
func (r Retrier) Do(ctx context.Context, description string, task func(ctx context.Context) error) error {
	policy := r.Policy
	if policy == nil {
		policy = NewFixedPolicy(DefaultAttempts, DefaultInterval)
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := r.Scope
	if scope == "" {
		scope = "task"
	}

	for attempt := 1; ; attempt++ {
		err := task(ctx)
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return err
		}
		wait := policy.Backoff(attempt)
		logger.Warn("retrying "+description,
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.String("error", err.Error()),
		)
		metrics.ObserveRetry(scope)
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: %w", description, err)
		}
	}
}

// Do is shorthand for Retrier{Policy: policy, Logger: logger}.Do.
func Do(ctx context.Context, description string, logger *zap.Logger, policy Policy, task func(ctx context.Context) error) error {
	return Retrier{Policy: policy, Logger: logger}.Do(ctx, description, task)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
