package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fast = Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2, Retries: 5}

func TestRetrier_Do(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		r := New(fast)
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("success after retries", func(t *testing.T) {
		r := New(fast, WithMaxRetries(3))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("fail")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("fail after max retries", func(t *testing.T) {
		r := New(StoreConnect, WithMaxRetries(2), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts) // 1 initial + 2 retries
	})

	t.Run("context cancellation", func(t *testing.T) {
		r := New(FeedCommit, WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())

		attempts := 0
		err := r.Do(ctx, func(ctx context.Context) error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, attempts)
	})
}

func TestRetrier_RetryIf(t *testing.T) {
	permanent := errors.New("permanent")
	var retried []int
	r := New(fast,
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
		WithOnRetry(func(attempt int, _ error) { retried = append(retried, attempt) }),
	)

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestPolicy_Delay(t *testing.T) {
	tests := []struct {
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{StoreConnect, 0, 0},
		{StoreConnect, 1, 500 * time.Millisecond},
		{StoreConnect, 2, time.Second},
		{StoreConnect, 4, 4 * time.Second},
		{StoreConnect, 10, 4 * time.Second},
		{FeedCommit, 1, 200 * time.Millisecond},
		{FeedCommit, 4, 1600 * time.Millisecond},
		{FeedCommit, 5, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetrier_JitterStaysInBounds(t *testing.T) {
	r := New(FeedCommit)
	for range 100 {
		d := r.jittered(time.Second)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
