package pump

import (
	"fmt"
	"strconv"
	"time"

	"github.com/baldanca/queue-pump/queue"
)

// MessageContext is the per-delivery metadata handed to a handler.
//
// A fresh MessageContext is built for every received envelope and is never
// shared between handler invocations. Attributes are read-only to handlers.
type MessageContext struct {
	id           string
	queueURL     string
	receiveCount int
	retryCount   *int
	sentAt       time.Time
	attrs        map[string]string
}

func newMessageContext(queueURL string, env queue.Envelope) *MessageContext {
	mc := &MessageContext{
		id:           env.ID,
		queueURL:     queueURL,
		receiveCount: env.ReceiveCount,
		sentAt:       env.SentAt,
		attrs:        make(map[string]string, len(env.Attributes)),
	}
	for k, v := range env.Attributes {
		mc.attrs[k] = v
	}
	if env.ReceiveCount > 0 {
		n := env.ReceiveCount - 1
		mc.retryCount = &n
	}
	return mc
}

// ID is the queue-assigned message id.
func (c *MessageContext) ID() string { return c.id }

// QueueURL is the queue the message was received from.
func (c *MessageContext) QueueURL() string { return c.queueURL }

// RetryCount is the number of earlier deliveries of this message. ok is
// false when the service did not report a delivery count.
func (c *MessageContext) RetryCount() (n int, ok bool) {
	if c.retryCount == nil {
		return 0, false
	}
	return *c.retryCount, true
}

// ReceiveCount is the raw service-reported delivery count (0 if unknown).
func (c *MessageContext) ReceiveCount() int { return c.receiveCount }

// SentAt is when the producer sent the message, if reported.
func (c *MessageContext) SentAt() time.Time { return c.sentAt }

// Attribute returns the string attribute stored under key.
func (c *MessageContext) Attribute(key string) (string, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// AttributeInt parses the attribute stored under key as an int. A missing
// attribute yields ok=false and no error; a present but non-numeric value
// is an error.
func (c *MessageContext) AttributeInt(key string) (v int, ok bool, err error) {
	raw, present := c.attrs[key]
	if !present {
		return 0, false, nil
	}
	v, err = strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("attribute %q: %w", key, err)
	}
	return v, true, nil
}

// Attributes returns a copy of all attributes.
func (c *MessageContext) Attributes() map[string]string {
	out := make(map[string]string, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

func (c *MessageContext) retries() int {
	if c.retryCount == nil {
		return 0
	}
	return *c.retryCount
}
