package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/host"
	"github.com/baldanca/queue-pump/metrics"
	"github.com/baldanca/queue-pump/pump"
	"github.com/baldanca/queue-pump/queue"
)

func resetSendFlags(q string) {
	sendFlags.queue = q
	sendFlags.delay = 0
	sendFlags.batch = 10
	sendFlags.attrs = nil
	sendFlags.encode = false
}

func TestSend_RawBatchToMemory(t *testing.T) {
	mem := queue.NewMemory("events")
	resetSendFlags("events")
	sendFlags.attrs = []string{"source=cli"}

	var out bytes.Buffer
	require.NoError(t, send(context.Background(), &out, mem, []string{"a", "b", "c"}))

	assert.Equal(t, 3, mem.Len("memory://events"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "0\tmem-"))

	envs, err := mem.ReceiveBatch(context.Background(), "memory://events", queue.ReceiveOptions{MaxMessages: 10, VisibilityTimeout: 30})
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, "a", envs[0].Body)
	assert.Equal(t, "cli", envs[0].Attributes["source"])
}

func TestSend_JSONSingle(t *testing.T) {
	mem := queue.NewMemory("events")
	resetSendFlags("events")
	sendFlags.encode = true

	var out bytes.Buffer
	require.NoError(t, send(context.Background(), &out, mem, []string{`{ "n": 1 }`}))

	envs, err := mem.ReceiveBatch(context.Background(), "memory://events", queue.ReceiveOptions{MaxMessages: 1})
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, `{"n":1}`, envs[0].Body)
	assert.Equal(t, "RawMessage", envs[0].Attributes[codec.MessageTypeAttribute])
}

func TestSend_InvalidJSONRejected(t *testing.T) {
	mem := queue.NewMemory("events")
	resetSendFlags("events")
	sendFlags.encode = true

	err := send(context.Background(), &bytes.Buffer{}, mem, []string{`{"n":`, `{}`})
	assert.Error(t, err)
	assert.Zero(t, mem.Len("memory://events"))
}

func TestParseAttrs(t *testing.T) {
	got, err := parseAttrs([]string{"a=1", "b=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, got)

	_, err = parseAttrs([]string{"novalue"})
	assert.Error(t, err)
}

func TestAdminMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewObserver(reg)
	require.NoError(t, err)

	toggles := map[string]*host.Toggle{"orders": host.NewToggle(true), "invoices": host.NewToggle(false)}
	srv := httptest.NewServer(adminMux(reg, toggles))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pumps?queue=orders&enabled=false", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var states []pumpState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&states))
	assert.Equal(t, []pumpState{{Queue: "invoices"}, {Queue: "orders"}}, states)
	assert.False(t, toggles["orders"].Enabled())

	resp2, err := http.Post(srv.URL+"/pumps?queue=nope&enabled=true", "", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
}

func TestLogHandler(t *testing.T) {
	logger, hook := test.NewNullLogger()

	mem := queue.NewMemory("events")
	_, err := mem.Send(context.Background(), "memory://events", queue.OutgoingMessage{
		Body:       `{"k":"v"}`,
		Attributes: map[string]string{codec.MessageTypeAttribute: "order"},
	})
	require.NoError(t, err)

	cfg := pump.DefaultConfig
	cfg.Queue = "events"
	cfg.WaitTime = 0
	p, err := pump.New[json.RawMessage](context.Background(), pump.NewFactory(mem), cfg, codec.JSON[json.RawMessage]{})
	require.NoError(t, err)
	require.NoError(t, p.Pump(context.Background(), logHandler(logger)))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "message received", entry.Message)
	assert.Equal(t, 9, entry.Data["bytes"])
	assert.Equal(t, 0, entry.Data["retry_count"])
	assert.Equal(t, "order", entry.Data["message_type"])
	assert.Zero(t, mem.Len("memory://events"))
}
