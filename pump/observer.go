package pump

import (
	"context"
	"time"

	"github.com/baldanca/queue-pump/queue"
)

// Observer receives pump events, typically to export metrics. Calls are
// made concurrently from handler goroutines.
type Observer interface {
	Received(queue string, n int)
	DecodeFailed(queue string)
	Handled(queue string, ok bool, took time.Duration)
	Deleted(queue string, n int)
	DeleteFailed(queue string)
	InFlight(queue string, delta int)
}

type nopObserver struct{}

func (nopObserver) Received(string, int)                {}
func (nopObserver) DecodeFailed(string)                 {}
func (nopObserver) Handled(string, bool, time.Duration) {}
func (nopObserver) Deleted(string, int)                 {}
func (nopObserver) DeleteFailed(string)                 {}
func (nopObserver) InFlight(string, int)                {}

// PoisonMessage is an envelope that could not be decoded.
type PoisonMessage struct {
	Envelope queue.Envelope
	Err      error
}

// PoisonArchiver stores poison messages before the pump deletes them. If
// ArchivePoison fails the messages are left on the queue.
type PoisonArchiver interface {
	ArchivePoison(ctx context.Context, queueName string, msgs []PoisonMessage) error
}
