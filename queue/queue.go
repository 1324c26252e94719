package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
)

// MaxBatchSize is the service ceiling for entries in one batch call.
const MaxBatchSize = 10

// ErrQueueNotFound is returned by ResolveURL when the queue does not exist.
var ErrQueueNotFound = errors.New("queue not found")

// ErrInvalidReceipt is returned when a receipt handle is unknown or expired.
var ErrInvalidReceipt = errors.New("receipt handle is invalid")

// Envelope is one received message plus the queue metadata needed to
// acknowledge it.
type Envelope struct {
	ID            string
	Body          string
	Attributes    map[string]string
	ReceiptHandle string

	// ReceiveCount is the service-reported approximate delivery count.
	// Zero means the service did not report one.
	ReceiveCount int
	SentAt       time.Time
}

// ReceiveOptions controls a single ReceiveBatch call.
type ReceiveOptions struct {
	MaxMessages       int32
	WaitSeconds       int32
	VisibilityTimeout int32 // zero uses the queue default
}

// OutgoingMessage is one entry of a Send or SendBatch call.
type OutgoingMessage struct {
	// ID identifies the entry inside a batch. SendBatch assigns positional
	// ids when it is empty.
	ID         string
	Body       string
	Attributes map[string]string

	// DelaySeconds overrides the queue delay when non-nil.
	DelaySeconds *int32
}

// SendSuccess maps a batch entry id to the id assigned by the service.
type SendSuccess struct {
	ID        string
	MessageID string
}

// SendResult is the per-entry outcome of SendBatch.
type SendResult struct {
	Successful []SendSuccess
	Failed     []BatchEntryError
}

// Err returns the failed entries joined into one error, or nil.
func (r SendResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i := range r.Failed {
		errs[i] = r.Failed[i]
	}
	return errors.Join(errs...)
}

// Ack is a compact handle used for batch deletes and lease extensions.
type Ack struct {
	ID     string
	Handle string
}

// Client is the transport contract the pump and the dispatcher consume.
//
// Every call is fallible; implementations wrap service failures in
// *TransportError.
type Client interface {
	ResolveURL(ctx context.Context, nameOrURL string) (string, error)
	ReceiveBatch(ctx context.Context, queueURL string, opts ReceiveOptions) ([]Envelope, error)
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	DeleteBatch(ctx context.Context, queueURL string, acks []Ack) error
	ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeoutSeconds int32) error
	ChangeVisibilityBatch(ctx context.Context, queueURL string, acks []Ack, timeoutSeconds int32) error
	Send(ctx context.Context, queueURL string, msg OutgoingMessage) (messageID string, err error)
	SendBatch(ctx context.Context, queueURL string, msgs []OutgoingMessage) (SendResult, error)
}

// TransportError reports a failed call against the queue service.
type TransportError struct {
	Op    string
	Queue string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queue %s %s: %v", e.Op, e.Queue, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op, queue string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Queue: queue, Err: err}
}

// BatchEntryError is a single entry rejected inside an otherwise successful
// batch call.
type BatchEntryError struct {
	ID          string
	Code        string
	Message     string
	SenderFault bool
}

func (e BatchEntryError) Error() string {
	return fmt.Sprintf("batch entry id=%s code=%s message=%s", e.ID, e.Code, e.Message)
}

// chunks calls fn with consecutive [start, end) windows of at most size.
func chunks(n, size int, fn func(start, end int) error) error {
	if size <= 0 {
		size = MaxBatchSize
	}
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		if err := fn(i, end); err != nil {
			return err
		}
	}
	return nil
}

// permanentCodes are service error codes that the same call will hit again.
var permanentCodes = map[string]bool{
	"ReceiptHandleIsInvalid":                  true,
	"InvalidParameterValue":                   true,
	"QueueDoesNotExist":                       true,
	"AWS.SimpleQueueService.NonExistentQueue": true,
	"InvalidIdFormat":                         true,
}

// IsPermanent reports whether err will not go away by repeating the call:
// an invalid receipt, a missing queue or an entry the service rejected as a
// sender fault.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidReceipt) || errors.Is(err, ErrQueueNotFound) {
		return true
	}

	var be BatchEntryError
	if errors.As(err, &be) {
		return be.SenderFault || permanentCodes[be.Code]
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		return permanentCodes[api.ErrorCode()]
	}
	return false
}
