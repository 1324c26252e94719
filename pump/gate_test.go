package pump

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGate(t *testing.T) {
	g := newGate(2)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if g.InFlight() != 2 || g.Capacity() != 2 {
		t.Fatalf("inflight=%d cap=%d", g.InFlight(), g.Capacity())
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := g.Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	g.Release()
	if err := g.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestGate_DoneContextTakesNoSlot(t *testing.T) {
	g := newGate(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Acquire(ctx); err == nil {
		t.Fatalf("expected error")
	}
	if g.InFlight() != 0 {
		t.Fatalf("slot leaked")
	}
}

func TestGate_MinimumCapacity(t *testing.T) {
	if newGate(0).Capacity() != 1 {
		t.Fatalf("capacity must be at least 1")
	}
}
