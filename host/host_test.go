package host

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/pump"
	"github.com/baldanca/queue-pump/queue"
)

func TestRun_CycleErrorsAreLoggedAndLoopContinues(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	d := Driver{
		Name: "orders",
		Cycle: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) == 3 {
				cancel()
				return nil
			}
			return errors.New("receive denied")
		},
		Logger: logger,
	}

	require.NoError(t, d.Run(ctx))
	assert.EqualValues(t, 3, calls)

	var failed []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "cycle failed" {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 2)
	assert.Equal(t, logrus.ErrorLevel, failed[0].Level)
	assert.NotEmpty(t, failed[0].Data["cycle_id"])
	assert.NotEqual(t, failed[0].Data["cycle_id"], failed[1].Data["cycle_id"])
	assert.Equal(t, "orders", failed[0].Data["driver"])
}

func TestRun_DisabledGateSkipsCycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	toggle := NewToggle(false)
	var calls int32
	d := Driver{
		Cycle: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
		Gate:  toggle.Gate(),
		Delay: 5 * time.Millisecond,
	}
	require.NoError(t, d.Run(ctx))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRun_ToggleAtRuntime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	toggle := NewToggle(false)
	var calls int32
	d := Driver{
		Cycle: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) == 2 {
				toggle.Disable()
				cancel()
			}
			return nil
		},
		Gate:  toggle.Gate(),
		Delay: time.Millisecond,
	}

	time.AfterFunc(10*time.Millisecond, toggle.Enable)
	require.NoError(t, d.Run(ctx))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.False(t, toggle.Enabled())
}

func TestRun_GateErrorSkipsCycle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks int32
	d := Driver{
		Cycle: func(context.Context) error {
			t.Error("cycle must not run")
			return nil
		},
		Gate: func(context.Context) (bool, error) {
			if atomic.AddInt32(&checks, 1) == 2 {
				cancel()
			}
			return false, errors.New("flag service down")
		},
		Logger: logger,
	}
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, "gate check failed, skipping cycle", hook.AllEntries()[1].Message)
}

func TestRun_PanicInCycleIsRecovered(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	d := Driver{
		Cycle: func(context.Context) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				panic("boom")
			}
			cancel()
			return nil
		},
		Logger: logger,
	}
	require.NoError(t, d.Run(ctx))
	assert.EqualValues(t, 2, calls)

	found := false
	for _, e := range hook.AllEntries() {
		found = found || e.Message == "cycle panicked"
	}
	assert.True(t, found)
}

func TestRun_NoCycle(t *testing.T) {
	assert.Error(t, Driver{}.Run(context.Background()))
}

type job struct {
	ID string `json:"id"`
}

func TestForPump_DrainsMemoryQueue(t *testing.T) {
	mem := queue.NewMemory("jobs")
	url := mem.CreateQueue("jobs")
	for i := 0; i < 3; i++ {
		_, err := mem.Send(context.Background(), url, queue.OutgoingMessage{Body: `{"id":"j"}`})
		require.NoError(t, err)
	}

	cfg := pump.DefaultConfig
	cfg.Queue = "jobs"
	cfg.WaitTime = 0
	cfg.BatchDelay = time.Millisecond
	p, err := pump.New[job](context.Background(), pump.NewFactory(mem), cfg, codec.JSON[job]{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var handled int32
	d := ForPump(p, func(ctx context.Context, j *job, mc *pump.MessageContext) error {
		if atomic.AddInt32(&handled, 1) == 3 {
			cancel()
		}
		return nil
	}, Always, nil)

	assert.Equal(t, "jobs", d.Name)
	assert.Equal(t, time.Millisecond, d.Delay)
	require.NoError(t, d.Run(ctx))
	assert.EqualValues(t, 3, atomic.LoadInt32(&handled))
	assert.Zero(t, mem.Len(url))
}
