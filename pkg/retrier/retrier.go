// Package retrier retries store and feed calls with capped exponential backoff.
package retrier

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy shapes the waits between attempts.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Retries after the first attempt.
	Retries int
	// Jitter spreads each wait by up to this share in either direction.
	Jitter float64
}

var (
	// StoreConnect reaches the state store at startup, where waiting a few seconds is cheap.
	StoreConnect = Policy{Initial: 500 * time.Millisecond, Max: 4 * time.Second, Multiplier: 2, Retries: 3, Jitter: 0.1}
	// FeedCommit commits consumer offsets; waits stay short so the feed loop does not fall behind.
	FeedCommit = Policy{Initial: 200 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2, Retries: 3, Jitter: 0.2}
)

// Delay returns the wait after the given failed attempt, counted from 1, without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Retrier runs a call under a Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error)
}

// Option adjusts a Retrier.
type Option func(*Retrier)

// WithInitialInterval overrides the policy's first wait.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.policy.Initial = d
	}
}

// WithMaxRetries overrides the policy's retry count.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.policy.Retries = n
	}
}

// WithRetryIf retries only the errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) {
		r.retryIf = fn
	}
}

// WithOnRetry calls fn with the failed attempt number before each wait.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier for policy.
func New(policy Policy, opts ...Option) *Retrier {
	r := &Retrier{policy: policy}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, the retries run out, retryIf refuses the error
// or ctx is done. It returns the last error of fn, or ctx.Err() when cancelled while waiting.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > r.policy.Retries || (r.retryIf != nil && !r.retryIf(err)) {
			return err
		}
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
		if err := wait(ctx, r.jittered(r.policy.Delay(attempt))); err != nil {
			return err
		}
	}
}

func (r *Retrier) jittered(d time.Duration) time.Duration {
	if r.policy.Jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * r.policy.Jitter * float64(d)
	return max(0, d+time.Duration(spread))
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
