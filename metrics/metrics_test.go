package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/pump"
	"github.com/baldanca/queue-pump/queue"
)

func TestObserver_Counts(t *testing.T) {
	o, err := NewObserver(prometheus.NewRegistry())
	require.NoError(t, err)

	o.Received("q", 3)
	o.DecodeFailed("q")
	o.Handled("q", true, 10*time.Millisecond)
	o.Handled("q", false, 20*time.Millisecond)
	o.Deleted("q", 2)
	o.DeleteFailed("q")
	o.InFlight("q", 1)
	o.InFlight("q", 1)
	o.InFlight("q", -1)

	assert.Equal(t, 3.0, testutil.ToFloat64(o.received.WithLabelValues("q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.decodeFailures.WithLabelValues("q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.handled.WithLabelValues("q", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.handled.WithLabelValues("q", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.deleted.WithLabelValues("q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.deleteFailures.WithLabelValues("q")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.inFlight.WithLabelValues("q")))
	assert.Equal(t, 1, testutil.CollectAndCount(o.duration))
}

func TestNewObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewObserver(reg)
	require.NoError(t, err)
	_, err = NewObserver(reg)
	assert.Error(t, err)
}

type task struct {
	Name string `json:"name"`
}

func TestObserver_WiredIntoPump(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	mem := queue.NewMemory("tasks")
	url := mem.CreateQueue("tasks")
	for _, body := range []string{`{"name":"a"}`, `{"name":"b"}`, `not json`} {
		_, err := mem.Send(context.Background(), url, queue.OutgoingMessage{Body: body})
		require.NoError(t, err)
	}

	cfg := pump.DefaultConfig
	cfg.Queue = "tasks"
	cfg.WaitTime = 0
	p, err := pump.New[task](context.Background(), pump.NewFactory(mem, pump.WithObserver(o)), cfg, codec.JSON[task]{})
	require.NoError(t, err)

	require.NoError(t, p.Pump(context.Background(), func(ctx context.Context, tk *task, mc *pump.MessageContext) error {
		if tk.Name == "b" {
			return errors.New("nope")
		}
		return nil
	}))

	assert.Equal(t, 3.0, testutil.ToFloat64(o.received.WithLabelValues("tasks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.decodeFailures.WithLabelValues("tasks")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.deleted.WithLabelValues("tasks")))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.inFlight.WithLabelValues("tasks")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `queuepump_handled_total{queue="tasks",result="failure"} 1`))
}
