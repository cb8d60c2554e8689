package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errFlaky = errors.New("connection reset")

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	calls := 0
	err := Do(context.Background(), "showtimes crawling from https://example.com", zap.New(core), NewFixedPolicy(3, 0),
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "retrying showtimes crawling from https://example.com", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["attempt"])
	assert.Equal(t, "connection reset", entries[1].ContextMap()["error"])
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), "list", nil, NewFixedPolicy(2, 0), func(context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, errFlaky)
	})

	require.ErrorIs(t, err, errFlaky)
	assert.EqualError(t, err, "attempt 2: connection reset")
	assert.Equal(t, 2, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	errParse := errors.New("unexpected markup")
	err := Do(context.Background(), "parse", nil, NewFixedPolicy(5, 0), func(context.Context) error {
		calls++
		return Permanent(errParse)
	})

	require.ErrorIs(t, err, errParse)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, "slow", nil, NewFixedPolicy(5, time.Hour), func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialPolicyBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialPolicy(4, 100*time.Millisecond, 300*time.Millisecond)
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
	assert.True(t, p.ShouldRetry(errFlaky, 3))
	assert.False(t, p.ShouldRetry(errFlaky, 4))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	assert.False(t, p.ShouldRetry(nil, 1))
}
