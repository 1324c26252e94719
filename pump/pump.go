// Package pump drains batches of messages from a queue, runs a typed handler
// over each with bounded concurrency and acknowledges the ones that succeed.
//
// A message is deleted if and only if its handler returns nil. Failed
// messages stay on the queue and reappear after their visibility timeout
// with a higher delivery count.
package pump

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/queue"
	"github.com/baldanca/queue-pump/retry"
)

// Handler processes one decoded message. payload is nil when the body was
// an explicit null. Returning an error leaves the message for retry; wrap it
// with RetryAfter to choose when it becomes visible again.
type Handler[T any] func(ctx context.Context, payload *T, mc *MessageContext) error

// Pump is a configured receive/process/acknowledge engine for one queue.
// Build it with New.
type Pump[T any] struct {
	cfg      Config
	queueURL string

	client   queue.Client
	codec    codec.Codec[T]
	gate     *gate
	logger   logrus.FieldLogger
	observer Observer
	ackRetry retry.Policy
	archiver PoisonArchiver
}

// Config returns the configuration the pump was built with.
func (p *Pump[T]) Config() Config { return p.cfg }

// QueueURL returns the resolved queue URL.
func (p *Pump[T]) QueueURL() string { return p.queueURL }

// Pump runs one cycle: a single receive call, then every received message
// is driven to a terminal outcome. It returns an error only when the
// receive call itself fails.
//
// Once ctx is canceled no further handler is started and the messages not
// yet started are left on the queue; handlers already running see the
// canceled ctx and Pump waits for them before returning.
func (p *Pump[T]) Pump(ctx context.Context, h Handler[T]) error {
	if h == nil {
		return fmt.Errorf("pump %s: nil handler", p.cfg.Queue)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	envs, err := p.client.ReceiveBatch(ctx, p.queueURL, queue.ReceiveOptions{
		MaxMessages:       p.cfg.MaxMessages,
		WaitSeconds:       seconds(p.cfg.WaitTime),
		VisibilityTimeout: seconds(p.cfg.VisibilityTimeout),
	})
	if err != nil {
		return err
	}
	p.observer.Received(p.cfg.Queue, len(envs))
	if len(envs) == 0 {
		return nil
	}

	var l *lease
	if p.cfg.LeaseRenewEvery > 0 {
		l = p.startLease(ctx)
		defer l.stop()
	}

	var (
		wg      sync.WaitGroup
		poison  []PoisonMessage
		seen    = make(map[string]struct{}, len(envs))
		started int
	)

dispatch:
	for i := range envs {
		env := envs[i]

		if _, dup := seen[env.ID]; dup {
			p.messageLogger(env).Warn("duplicate message id in batch, leaving for retry")
			continue
		}
		seen[env.ID] = struct{}{}

		payload, err := p.codec.Decode(codec.Message{Body: env.Body, Attributes: env.Attributes})
		if err != nil {
			poison = append(poison, PoisonMessage{Envelope: env, Err: err})
			continue
		}

		if err := p.gate.Acquire(ctx); err != nil {
			break dispatch
		}
		if ctx.Err() != nil {
			p.gate.Release()
			break dispatch
		}

		l.track(env)
		p.observer.InFlight(p.cfg.Queue, 1)
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.gate.Release()
			defer p.observer.InFlight(p.cfg.Queue, -1)
			p.process(ctx, h, env, payload, l)
		}()
	}

	if skipped := len(envs) - started - len(poison); skipped > 0 && ctx.Err() != nil {
		p.logger.WithFields(logrus.Fields{"queue": p.cfg.Queue, "skipped": skipped}).
			Info("cycle canceled, unstarted messages left for retry")
	}

	p.resolvePoison(ctx, poison)
	wg.Wait()
	return nil
}

func (p *Pump[T]) process(ctx context.Context, h Handler[T], env queue.Envelope, payload *T, l *lease) {
	mc := newMessageContext(p.queueURL, env)
	log := p.messageLogger(env)

	start := time.Now()
	out := p.invoke(ctx, h, payload, mc)
	p.observer.Handled(p.cfg.Queue, out.Succeeded(), time.Since(start))
	l.untrack(env.ID)

	act := resolve(out, p.cfg, mc.retries())

	ackCtx, cancel := p.ackContext(ctx)
	defer cancel()

	if act.delete {
		err := p.ackRetry.Do(ackCtx, func(ctx context.Context) error {
			return p.client.Delete(ctx, p.queueURL, env.ReceiptHandle)
		})
		if err != nil {
			p.observer.DeleteFailed(p.cfg.Queue)
			log.WithError(err).Error("delete failed, message will be redelivered")
			return
		}
		p.observer.Deleted(p.cfg.Queue, 1)
		log.Debug("message handled")
		return
	}

	entry := log.WithError(out.Err)
	if act.visibility != nil {
		entry = entry.WithField("visibility_seconds", *act.visibility)
	}
	entry.Warn("handler failed, message left for retry")

	if act.visibility == nil {
		return
	}
	if err := p.client.ChangeVisibility(ackCtx, p.queueURL, env.ReceiptHandle, *act.visibility); err != nil {
		log.WithError(err).Error("change visibility failed")
	}
}

func (p *Pump[T]) invoke(ctx context.Context, h Handler[T], payload *T, mc *MessageContext) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure(&HandlerError{MessageID: mc.ID(), Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	if err := h(ctx, payload, mc); err != nil {
		return outcomeOf(&HandlerError{MessageID: mc.ID(), Err: err})
	}
	return Success()
}

func (p *Pump[T]) resolvePoison(ctx context.Context, poison []PoisonMessage) {
	if len(poison) == 0 {
		return
	}

	for _, pm := range poison {
		p.observer.DecodeFailed(p.cfg.Queue)
		p.messageLogger(pm.Envelope).WithError(pm.Err).
			WithField("policy", p.cfg.DecodeFailure.String()).
			Warn("message body could not be decoded")
	}
	if p.cfg.DecodeFailure == DecodeFailureRetry {
		return
	}

	ackCtx, cancel := p.ackContext(ctx)
	defer cancel()

	if p.archiver != nil {
		if err := p.archiver.ArchivePoison(ackCtx, p.cfg.Queue, poison); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{"queue": p.cfg.Queue, "count": len(poison)}).
				Error("archive failed, poison messages left for retry")
			return
		}
	}

	acks := make([]queue.Ack, len(poison))
	for i, pm := range poison {
		acks[i] = queue.Ack{ID: pm.Envelope.ID, Handle: pm.Envelope.ReceiptHandle}
	}
	err := p.ackRetry.Do(ackCtx, func(ctx context.Context) error {
		return p.client.DeleteBatch(ctx, p.queueURL, acks)
	})
	if err != nil {
		p.observer.DeleteFailed(p.cfg.Queue)
		p.logger.WithError(err).WithField("queue", p.cfg.Queue).Error("delete of poison messages failed")
		return
	}
	p.observer.Deleted(p.cfg.Queue, len(acks))
}

// ackContext keeps values but not cancellation: work that already finished
// is still acknowledged while the pump shuts down.
func (p *Pump[T]) ackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.cfg.AckTimeout)
}

func (p *Pump[T]) messageLogger(env queue.Envelope) logrus.FieldLogger {
	return p.logger.WithFields(logrus.Fields{
		"queue":         p.cfg.Queue,
		"message_id":    env.ID,
		"receive_count": env.ReceiveCount,
	})
}
