package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const memoryScheme = "memory://"

// Memory is an in-process Client with SQS-like visibility semantics. It is
// meant for local runs and tests; nothing is persisted.
type Memory struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    uint64

	// Now is the clock used for visibility and delays.
	Now func() time.Time
	// PollInterval bounds how long a long-poll sleeps before rechecking for
	// messages whose visibility expired.
	PollInterval time.Duration
	// DefaultVisibilityTimeout applies to receives that ask for none, as the
	// queue-level default does on SQS.
	DefaultVisibilityTimeout time.Duration
}

// DefaultVisibilityTimeout is the SQS queue default.
const DefaultVisibilityTimeout = 30 * time.Second

type memQueue struct {
	msgs   []*memMessage
	notify chan struct{}
}

type memMessage struct {
	id           string
	body         string
	attrs        map[string]string
	sentAt       time.Time
	visibleAt    time.Time
	receiveCount int
	receipt      string
}

// NewMemory returns a Memory with the named queues already created.
func NewMemory(names ...string) *Memory {
	m := &Memory{
		queues:                   make(map[string]*memQueue),
		Now:                      time.Now,
		PollInterval:             50 * time.Millisecond,
		DefaultVisibilityTimeout: DefaultVisibilityTimeout,
	}
	for _, n := range names {
		m.CreateQueue(n)
	}
	return m
}

// CreateQueue creates the queue if missing and returns its URL.
func (m *Memory) CreateQueue(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		m.queues[name] = &memQueue{notify: make(chan struct{})}
	}
	return memoryScheme + name
}

// Len reports how many messages (visible or not) the queue holds.
func (m *Memory) Len(queueURL string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.lookup(queueURL)
	if err != nil {
		return 0
	}
	return len(q.msgs)
}

func (m *Memory) ResolveURL(ctx context.Context, nameOrURL string) (string, error) {
	name := strings.TrimPrefix(nameOrURL, memoryScheme)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		return "", &TransportError{Op: "resolve", Queue: nameOrURL, Err: ErrQueueNotFound}
	}
	return memoryScheme + name, nil
}

func (m *Memory) lookup(queueURL string) (*memQueue, error) {
	q, ok := m.queues[strings.TrimPrefix(queueURL, memoryScheme)]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return q, nil
}

func (m *Memory) ReceiveBatch(ctx context.Context, queueURL string, opts ReceiveOptions) ([]Envelope, error) {
	max := int(opts.MaxMessages)
	if max <= 0 {
		max = 1
	}
	deadline := m.Now().Add(time.Duration(opts.WaitSeconds) * time.Second)
	visibility := time.Duration(opts.VisibilityTimeout) * time.Second
	if opts.VisibilityTimeout == 0 {
		visibility = m.DefaultVisibilityTimeout
	}

	for {
		m.mu.Lock()
		q, err := m.lookup(queueURL)
		if err != nil {
			m.mu.Unlock()
			return nil, transportErr("receive", queueURL, err)
		}

		now := m.Now()
		var out []Envelope
		for _, msg := range q.msgs {
			if len(out) == max {
				break
			}
			if msg.visibleAt.After(now) {
				continue
			}
			m.seq++
			msg.receiveCount++
			msg.receipt = msg.id + "#" + strconv.FormatUint(m.seq, 10)
			msg.visibleAt = now.Add(visibility)
			out = append(out, Envelope{
				ID:            msg.id,
				Body:          msg.body,
				Attributes:    copyAttrs(msg.attrs),
				ReceiptHandle: msg.receipt,
				ReceiveCount:  msg.receiveCount,
				SentAt:        msg.sentAt,
			})
		}
		notify := q.notify
		m.mu.Unlock()

		if len(out) > 0 || !now.Before(deadline) {
			return out, nil
		}

		wait := deadline.Sub(now)
		if m.PollInterval > 0 && wait > m.PollInterval {
			wait = m.PollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, transportErr("receive", queueURL, ctx.Err())
		case <-notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Memory) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.lookup(queueURL)
	if err != nil {
		return transportErr("delete", queueURL, err)
	}
	for i, msg := range q.msgs {
		if msg.receipt == receiptHandle {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return nil
		}
	}
	return transportErr("delete", queueURL, ErrInvalidReceipt)
}

func (m *Memory) DeleteBatch(ctx context.Context, queueURL string, acks []Ack) error {
	return chunks(len(acks), MaxBatchSize, func(start, end int) error {
		for _, a := range acks[start:end] {
			if err := m.Delete(ctx, queueURL, a.Handle); err != nil {
				return transportErr("delete batch", queueURL, errors.Unwrap(err))
			}
		}
		return nil
	})
}

func (m *Memory) ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeoutSeconds int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.lookup(queueURL)
	if err != nil {
		return transportErr("change visibility", queueURL, err)
	}
	for _, msg := range q.msgs {
		if msg.receipt == receiptHandle {
			msg.visibleAt = m.Now().Add(time.Duration(timeoutSeconds) * time.Second)
			if timeoutSeconds == 0 {
				m.wake(q)
			}
			return nil
		}
	}
	return transportErr("change visibility", queueURL, ErrInvalidReceipt)
}

func (m *Memory) ChangeVisibilityBatch(ctx context.Context, queueURL string, acks []Ack, timeoutSeconds int32) error {
	return chunks(len(acks), MaxBatchSize, func(start, end int) error {
		for _, a := range acks[start:end] {
			if err := m.ChangeVisibility(ctx, queueURL, a.Handle, timeoutSeconds); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Memory) Send(ctx context.Context, queueURL string, msg OutgoingMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.lookup(queueURL)
	if err != nil {
		return "", transportErr("send", queueURL, err)
	}
	return m.enqueue(q, msg), nil
}

func (m *Memory) SendBatch(ctx context.Context, queueURL string, msgs []OutgoingMessage) (SendResult, error) {
	var res SendResult
	if len(msgs) > MaxBatchSize {
		return res, transportErr("send batch", queueURL,
			fmt.Errorf("too many entries in batch request: %d > %d", len(msgs), MaxBatchSize))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.lookup(queueURL)
	if err != nil {
		return res, transportErr("send batch", queueURL, err)
	}
	for i, msg := range msgs {
		id := msg.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		res.Successful = append(res.Successful, SendSuccess{ID: id, MessageID: m.enqueue(q, msg)})
	}
	return res, nil
}

// enqueue must be called with m.mu held.
func (m *Memory) enqueue(q *memQueue, msg OutgoingMessage) string {
	m.seq++
	now := m.Now()
	mm := &memMessage{
		id:        "mem-" + strconv.FormatUint(m.seq, 10),
		body:      msg.Body,
		attrs:     copyAttrs(msg.Attributes),
		sentAt:    now,
		visibleAt: now,
	}
	if msg.DelaySeconds != nil {
		mm.visibleAt = now.Add(time.Duration(*msg.DelaySeconds) * time.Second)
	}
	q.msgs = append(q.msgs, mm)
	m.wake(q)
	return mm.id
}

func (m *Memory) wake(q *memQueue) {
	close(q.notify)
	q.notify = make(chan struct{})
}

func copyAttrs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
