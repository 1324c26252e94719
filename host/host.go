// Package host runs a pump cycle repeatedly until its context ends. Each
// cycle is consulted against an enable gate first and followed by a fixed
// delay; cycle failures are logged and never stop the loop.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/baldanca/queue-pump/logging"
	"github.com/baldanca/queue-pump/pump"
)

// Cycle performs one unit of work, typically one Pump call.
type Cycle func(ctx context.Context) error

// Gate reports whether the next cycle should run.
type Gate func(ctx context.Context) (bool, error)

// Always is a Gate that is always open.
func Always(context.Context) (bool, error) { return true, nil }

// Toggle is a Gate that can be switched at runtime.
type Toggle struct {
	on atomic.Bool
}

func NewToggle(enabled bool) *Toggle {
	t := &Toggle{}
	t.on.Store(enabled)
	return t
}

func (t *Toggle) Enable()       { t.on.Store(true) }
func (t *Toggle) Disable()      { t.on.Store(false) }
func (t *Toggle) Enabled() bool { return t.on.Load() }

// Gate returns the toggle as a Gate.
func (t *Toggle) Gate() Gate {
	return func(context.Context) (bool, error) { return t.on.Load(), nil }
}

// Driver loops over Cycle. Gate defaults to Always.
type Driver struct {
	Name   string
	Cycle  Cycle
	Gate   Gate
	Delay  time.Duration
	Logger logrus.FieldLogger
}

// ForPump builds a Driver that runs p with h, waiting the pump's BatchDelay
// between cycles.
func ForPump[T any](p *pump.Pump[T], h pump.Handler[T], gate Gate, logger logrus.FieldLogger) Driver {
	return Driver{
		Name:   p.Config().Queue,
		Cycle:  func(ctx context.Context) error { return p.Pump(ctx, h) },
		Gate:   gate,
		Delay:  p.Config().BatchDelay,
		Logger: logger,
	}
}

// Run blocks until ctx is done. It only returns an error for a Driver
// without a Cycle.
func (d Driver) Run(ctx context.Context) error {
	if d.Cycle == nil {
		return errors.New("host: driver has no cycle")
	}
	gate := d.Gate
	if gate == nil {
		gate = Always
	}
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("driver", d.Name)

	log.Info("driver started")
	defer log.Info("driver stopped")

	for ctx.Err() == nil {
		enabled, err := gate(ctx)
		switch {
		case err != nil:
			log.WithError(err).Warn("gate check failed, skipping cycle")
		case !enabled:
			log.Debug("driver disabled, skipping cycle")
		default:
			d.runCycle(ctx, log.WithField("cycle_id", uuid.NewString()))
		}

		if !sleep(ctx, d.Delay) {
			break
		}
	}
	return nil
}

func (d Driver) runCycle(ctx context.Context, log logrus.FieldLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.WithError(fmt.Errorf("panic: %v", r)).Error("cycle panicked")
		}
	}()

	start := time.Now()
	err := d.Cycle(ctx)
	took := time.Since(start)

	switch {
	case err == nil:
		log.WithField("took", took).Debug("cycle done")
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		log.Debug("cycle interrupted by shutdown")
	default:
		log.WithError(err).WithField("took", took).Error("cycle failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
