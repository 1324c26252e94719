package pump

import (
	"errors"
	"fmt"
	"time"
)

// Outcome is the result of one handler invocation.
type Outcome struct {
	Err error

	// RetryAfter, when set, overrides the configured failure visibility.
	RetryAfter *time.Duration
}

// Success is the outcome of a handler that completed normally.
func Success() Outcome { return Outcome{} }

// Failure is the outcome of a handler that returned err.
func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("unspecified failure")
	}
	return Outcome{Err: err}
}

func (o Outcome) Succeeded() bool { return o.Err == nil }

type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.err, e.delay)
}

func (e *retryAfterError) Unwrap() error { return e.err }

// RetryAfter marks a handler failure that should become visible again after
// delay instead of the configured failure visibility.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("retry requested")
	}
	return &retryAfterError{err: err, delay: delay}
}

func outcomeOf(err error) Outcome {
	if err == nil {
		return Success()
	}
	out := Failure(err)
	var ra *retryAfterError
	if errors.As(err, &ra) {
		d := ra.delay
		out.RetryAfter = &d
	}
	return out
}

// action is what the pump does with a message once its handler returned.
type action struct {
	delete bool

	// visibility, when non-nil, is applied to a message left for retry.
	visibility *int32
}

// resolve maps an outcome to an action. retries is the number of earlier
// deliveries of the message.
func resolve(o Outcome, cfg Config, retries int) action {
	if o.Succeeded() {
		return action{delete: true}
	}

	if o.RetryAfter != nil {
		s := seconds(*o.RetryAfter)
		return action{visibility: &s}
	}
	if cfg.FailVisibilityTimeout <= 0 {
		return action{}
	}

	d := cfg.FailVisibilityTimeout
	if cfg.FailBackoff {
		for i := 0; i < retries && d < maxVisibility; i++ {
			d *= 2
		}
	}
	s := seconds(d)
	return action{visibility: &s}
}
