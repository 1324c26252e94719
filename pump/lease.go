package pump

import (
	"context"
	"sync"
	"time"

	"github.com/baldanca/queue-pump/queue"
)

// lease periodically extends the visibility of messages whose handlers are
// still running so long work is not redelivered mid-flight. Renewal is best
// effort; a failed renewal is logged and retried on the next tick.
//
// renewMu is held from snapshot until the renewal call returns. untrack
// takes it too, so once untrack returns no renewal carrying that handle is
// still in flight and the caller's own visibility change or delete lands last.
//
// All methods are safe on a nil *lease, which is what the pump uses when
// renewal is disabled.
type lease struct {
	renewMu sync.Mutex

	mu       sync.Mutex
	inFlight map[string]queue.Ack

	cancel context.CancelFunc
	done   chan struct{}
}

func (p *Pump[T]) startLease(parent context.Context) *lease {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	l := &lease{
		inFlight: make(map[string]queue.Ack),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	timeout := seconds(p.cfg.VisibilityTimeout)

	go func() {
		defer close(l.done)
		t := time.NewTicker(p.cfg.LeaseRenewEvery)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.renew(ctx, l, timeout)
			}
		}
	}()
	return l
}

func (p *Pump[T]) renew(ctx context.Context, l *lease, timeout int32) {
	l.renewMu.Lock()
	defer l.renewMu.Unlock()

	acks := l.snapshot()
	if len(acks) == 0 {
		return
	}
	if err := p.client.ChangeVisibilityBatch(ctx, p.queueURL, acks, timeout); err != nil && ctx.Err() == nil {
		p.logger.WithError(err).WithField("queue", p.cfg.Queue).
			WithField("count", len(acks)).Warn("lease renewal failed")
	}
}

func (l *lease) track(env queue.Envelope) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.inFlight[env.ID] = queue.Ack{ID: env.ID, Handle: env.ReceiptHandle}
	l.mu.Unlock()
}

// untrack blocks while a renewal is in flight.
func (l *lease) untrack(id string) {
	if l == nil {
		return
	}
	l.renewMu.Lock()
	defer l.renewMu.Unlock()
	l.mu.Lock()
	delete(l.inFlight, id)
	l.mu.Unlock()
}

func (l *lease) snapshot() []queue.Ack {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]queue.Ack, 0, len(l.inFlight))
	for _, a := range l.inFlight {
		out = append(out, a)
	}
	return out
}

func (l *lease) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}
