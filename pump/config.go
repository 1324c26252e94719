package pump

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxVisibility is the service ceiling for a visibility timeout (12h).
const maxVisibility = 12 * time.Hour

// DecodeFailurePolicy decides what happens to an envelope whose body does
// not decode. The handler is never invoked for such an envelope.
type DecodeFailurePolicy int

const (
	// DecodeFailureDelete removes the envelope (after archiving it when an
	// archiver is configured). This is the default: a body that failed to
	// decode once will fail again, so retrying only loops.
	DecodeFailureDelete DecodeFailurePolicy = iota
	// DecodeFailureRetry leaves the envelope on the queue; it reappears
	// after the visibility timeout until a redrive policy moves it.
	DecodeFailureRetry
)

func (p DecodeFailurePolicy) String() string {
	switch p {
	case DecodeFailureDelete:
		return "delete"
	case DecodeFailureRetry:
		return "retry"
	default:
		return fmt.Sprintf("DecodeFailurePolicy(%d)", int(p))
	}
}

// ParseDecodeFailurePolicy accepts "delete" or "retry". Empty means delete.
func ParseDecodeFailurePolicy(s string) (DecodeFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delete":
		return DecodeFailureDelete, nil
	case "retry":
		return DecodeFailureRetry, nil
	default:
		return 0, fmt.Errorf("unknown decode failure policy %q", s)
	}
}

// Config is the immutable configuration of one Pump.
type Config struct {
	// Queue is a queue name or a full queue URL.
	Queue string

	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration

	// BatchDelay is the pause a driver takes between cycles.
	BatchDelay time.Duration

	// MaxConcurrency bounds simultaneous handler invocations.
	MaxConcurrency int

	DecodeFailure DecodeFailurePolicy

	// FailVisibilityTimeout, when positive, is applied to a message whose
	// handler failed. Zero leaves the receive-time visibility in place.
	FailVisibilityTimeout time.Duration
	// FailBackoff doubles FailVisibilityTimeout per previous delivery.
	FailBackoff bool

	// LeaseRenewEvery, when positive, periodically re-extends the visibility
	// of messages whose handler is still running.
	LeaseRenewEvery time.Duration

	// AckTimeout bounds delete and visibility calls made after a handler
	// returns. Those calls outlive cancellation of the cycle.
	AckTimeout time.Duration
}

var DefaultConfig = Config{
	MaxMessages:       10,
	WaitTime:          20 * time.Second,
	VisibilityTimeout: 30 * time.Second,
	BatchDelay:        time.Second,
	MaxConcurrency:    4,
	DecodeFailure:     DecodeFailureDelete,
	AckTimeout:        10 * time.Second,
}

// Validate reports the first invalid field as a *ConfigurationError.
func (c Config) Validate() error {
	fail := func(field, msg string) error {
		return &ConfigurationError{Field: field, Err: errors.New(msg)}
	}

	if strings.TrimSpace(c.Queue) == "" {
		return fail("Queue", "queue name or url is required")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		return fail("MaxMessages", "must be between 1 and 10")
	}
	if c.WaitTime < 0 || c.WaitTime > 20*time.Second {
		return fail("WaitTime", "must be between 0 and 20s")
	}
	if c.VisibilityTimeout < 0 || c.VisibilityTimeout > maxVisibility {
		return fail("VisibilityTimeout", "must be between 0 and 12h")
	}
	if c.BatchDelay < 0 {
		return fail("BatchDelay", "must be non-negative")
	}
	if c.MaxConcurrency < 1 {
		return fail("MaxConcurrency", "must be at least 1")
	}
	if c.DecodeFailure != DecodeFailureDelete && c.DecodeFailure != DecodeFailureRetry {
		return fail("DecodeFailure", "unknown policy")
	}
	if c.FailVisibilityTimeout < 0 || c.FailVisibilityTimeout > maxVisibility {
		return fail("FailVisibilityTimeout", "must be between 0 and 12h")
	}
	if c.LeaseRenewEvery < 0 {
		return fail("LeaseRenewEvery", "must be non-negative")
	}
	if c.LeaseRenewEvery > 0 && c.LeaseRenewEvery >= c.VisibilityTimeout {
		return fail("LeaseRenewEvery", "must be shorter than VisibilityTimeout")
	}
	if c.AckTimeout <= 0 {
		return fail("AckTimeout", "must be positive")
	}
	return nil
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxVisibility {
		d = maxVisibility
	}
	// round up so sub-second delays still hide the message
	return int32((d + time.Second - 1) / time.Second)
}
