// Package dispatcher sends typed messages to a queue, one at a time or in
// batches split by the service ceiling of ten entries per call.
//
// There is no retry at this layer; a failed call is reported to the caller.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/logging"
	"github.com/baldanca/queue-pump/queue"
)

// MaxDelaySeconds is the longest per-message delay the service accepts.
const MaxDelaySeconds = 900

// DefaultBatchSize is used when QueueBatch is called with maxBatchSize <= 0.
const DefaultBatchSize = queue.MaxBatchSize

// Dispatcher encodes items of type T and sends them. It is safe for
// concurrent use.
type Dispatcher[T any] struct {
	client queue.Client
	codec  codec.Codec[T]
	logger logrus.FieldLogger

	mu   sync.RWMutex
	urls map[string]string
}

type Option func(*options)

type options struct {
	logger logrus.FieldLogger
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New panics when client or c is nil.
func New[T any](client queue.Client, c codec.Codec[T], opts ...Option) *Dispatcher[T] {
	if client == nil {
		panic("dispatcher: nil queue client")
	}
	if c == nil {
		panic("dispatcher: nil codec")
	}

	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Dispatcher[T]{
		client: client,
		codec:  c,
		logger: o.logger,
		urls:   make(map[string]string),
	}
}

// Queue encodes item and sends it with the given delay.
func (d *Dispatcher[T]) Queue(ctx context.Context, item T, queueName string, delaySeconds int32) (string, error) {
	msg, err := d.codec.Encode(item)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return d.QueueRequest(ctx, queue.OutgoingMessage{Body: msg.Body, Attributes: msg.Attributes}, queueName, delaySeconds)
}

// QueueRequest sends a pre-built message, bypassing the codec. A delay set
// on req wins over delaySeconds.
func (d *Dispatcher[T]) QueueRequest(ctx context.Context, req queue.OutgoingMessage, queueName string, delaySeconds int32) (string, error) {
	if err := checkDelay(delaySeconds); err != nil {
		return "", err
	}
	req.DelaySeconds = withDelay(req.DelaySeconds, delaySeconds)
	if err := checkDelay(*req.DelaySeconds); err != nil {
		return "", err
	}
	url, err := d.resolve(ctx, queueName)
	if err != nil {
		return "", err
	}

	id, err := d.client.Send(ctx, url, req)
	if err != nil {
		return "", err
	}
	d.logger.WithFields(logrus.Fields{"queue": queueName, "message_id": id, "delay_seconds": *req.DelaySeconds}).
		Debug("message sent")
	return id, nil
}

// QueueBatch encodes items and sends them in chunks of at most
// maxBatchSize (capped at the service ceiling) entries and MaxBatchBytes
// of payload. Every chunk is attempted
// even when an earlier one fails. The returned error joins every chunk
// failure and every rejected entry; BatchResult tells which items made it.
func (d *Dispatcher[T]) QueueBatch(ctx context.Context, items []T, queueName string, delaySeconds int32, maxBatchSize int) (BatchResult, error) {
	reqs := make([]queue.OutgoingMessage, len(items))
	for i, item := range items {
		msg, err := d.codec.Encode(item)
		if err != nil {
			return BatchResult{}, fmt.Errorf("encode item %d: %w", i, err)
		}
		reqs[i] = queue.OutgoingMessage{Body: msg.Body, Attributes: msg.Attributes}
	}
	return d.QueueBatchRequest(ctx, reqs, queueName, delaySeconds, maxBatchSize)
}

// QueueBatchRequest is QueueBatch for pre-built messages. An entry's own
// DelaySeconds wins over delaySeconds. Entry IDs are replaced by the item's
// index in reqs, which is how ChunkResult.Failed refers to them.
func (d *Dispatcher[T]) QueueBatchRequest(ctx context.Context, reqs []queue.OutgoingMessage, queueName string, delaySeconds int32, maxBatchSize int) (BatchResult, error) {
	var res BatchResult
	if len(reqs) == 0 {
		return res, nil
	}
	if err := checkDelay(delaySeconds); err != nil {
		return res, err
	}
	for i, r := range reqs {
		if r.DelaySeconds == nil {
			continue
		}
		if err := checkDelay(*r.DelaySeconds); err != nil {
			return res, fmt.Errorf("item %d: %w", i, err)
		}
	}
	url, err := d.resolve(ctx, queueName)
	if err != nil {
		return res, err
	}

	size := maxBatchSize
	if size <= 0 || size > queue.MaxBatchSize {
		size = DefaultBatchSize
	}

	for _, w := range split(reqs, size, MaxBatchBytes) {
		res.Chunks = append(res.Chunks, d.sendChunk(ctx, url, reqs, w.start, w.end, delaySeconds))
	}

	log := d.logger.WithFields(logrus.Fields{"queue": queueName, "items": len(reqs), "chunks": len(res.Chunks)})
	if err := res.Err(); err != nil {
		log.WithError(err).WithField("sent", res.Sent()).Warn("batch partially sent")
		return res, err
	}
	log.Debug("batch sent")
	return res, nil
}

func (d *Dispatcher[T]) sendChunk(ctx context.Context, url string, reqs []queue.OutgoingMessage, start, end int, delay int32) ChunkResult {
	cr := ChunkResult{Start: start, End: end, MessageIDs: make([]string, end-start)}

	entries := make([]queue.OutgoingMessage, 0, end-start)
	for i := start; i < end; i++ {
		e := reqs[i]
		e.ID = strconv.Itoa(i)
		e.DelaySeconds = withDelay(e.DelaySeconds, delay)
		entries = append(entries, e)
	}

	out, err := d.client.SendBatch(ctx, url, entries)
	if err != nil {
		cr.Err = err
		return cr
	}
	for _, ok := range out.Successful {
		if i, convErr := strconv.Atoi(ok.ID); convErr == nil && i >= start && i < end {
			cr.MessageIDs[i-start] = ok.MessageID
		}
	}
	cr.Failed = out.Failed
	return cr
}

func (d *Dispatcher[T]) resolve(ctx context.Context, queueName string) (string, error) {
	d.mu.RLock()
	url, ok := d.urls[queueName]
	d.mu.RUnlock()
	if ok {
		return url, nil
	}

	url, err := d.client.ResolveURL(ctx, queueName)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.urls[queueName] = url
	d.mu.Unlock()
	return url, nil
}

// withDelay keeps an explicit per-message delay and falls back to def.
func withDelay(own *int32, def int32) *int32 {
	if own != nil {
		v := *own
		return &v
	}
	return &def
}

func checkDelay(s int32) error {
	if s < 0 || s > MaxDelaySeconds {
		return fmt.Errorf("delay seconds %d out of range [0, %d]", s, MaxDelaySeconds)
	}
	return nil
}

// ChunkResult is the outcome of one batch-send call.
type ChunkResult struct {
	// Start and End delimit the chunk as [Start, End) over the caller's items.
	Start, End int

	// MessageIDs holds the service id per item of the chunk, empty for items
	// that were not sent.
	MessageIDs []string
	// Failed lists entries the service rejected. Their ID is the caller's
	// item index.
	Failed []queue.BatchEntryError
	// Err is set when the whole call failed.
	Err error
}

// BatchResult collects the chunk outcomes of one QueueBatch call in order.
type BatchResult struct {
	Chunks []ChunkResult
}

// Sent counts items the service accepted.
func (r BatchResult) Sent() int {
	n := 0
	for _, c := range r.Chunks {
		for _, id := range c.MessageIDs {
			if id != "" {
				n++
			}
		}
	}
	return n
}

// MessageIDs returns the service ids in caller order, empty for unsent items.
func (r BatchResult) MessageIDs() []string {
	var out []string
	for _, c := range r.Chunks {
		out = append(out, c.MessageIDs...)
	}
	return out
}

func (r BatchResult) Err() error {
	var errs []error
	for _, c := range r.Chunks {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("chunk [%d,%d): %w", c.Start, c.End, c.Err))
		}
		for _, f := range c.Failed {
			errs = append(errs, f)
		}
	}
	return errors.Join(errs...)
}
