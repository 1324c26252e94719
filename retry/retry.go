// Package retry wraps queue calls with bounded retries.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy wraps an operation with retries.
type Policy interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// None runs the operation once.
type None struct{}

func (None) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

const (
	defaultBaseDelay = 50 * time.Millisecond
	defaultMaxDelay  = 2 * time.Second
)

// Exponential makes up to Attempts calls, waiting BaseDelay, 2*BaseDelay,
// ... (capped at MaxDelay) between them. Jitter spreads each wait over
// [0.8, 1.2) of its nominal value.
//
// Retryable, when set, decides whether an error is worth another attempt;
// by default every error is. An error it rejects is returned at once.
type Exponential struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
	Retryable func(error) bool
}

func (r Exponential) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, r.backoff(attempt)); werr != nil {
				return werr
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
	}
	return err
}

// backoff is the wait before the given attempt (attempt >= 1).
func (r Exponential) backoff(attempt int) time.Duration {
	base, max := r.BaseDelay, r.MaxDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	if max < base {
		max = base
	}

	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if r.Jitter {
		d = time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
	}
	if d > max {
		d = max
	}
	return d
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
