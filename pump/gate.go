package pump

import "context"

// gate is a counting admission gate bounding concurrent handler runs.
type gate struct {
	slots chan struct{}
}

func newGate(n int) *gate {
	if n < 1 {
		n = 1
	}
	return &gate{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done. It fails without
// taking a slot when ctx is already done.
func (g *gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) Release() { <-g.slots }

func (g *gate) InFlight() int { return len(g.slots) }

func (g *gate) Capacity() int { return cap(g.slots) }
