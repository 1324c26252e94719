package pump

import "fmt"

// ConfigurationError reports an invalid Config or an unresolvable queue.
// It is returned at construction time and is not recoverable by retrying.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pump config %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// HandlerError wraps a failure returned (or panicked) by a handler.
type HandlerError struct {
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for message %s: %v", e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
