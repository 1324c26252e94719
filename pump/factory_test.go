package pump

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baldanca/queue-pump/codec"
	"github.com/baldanca/queue-pump/queue"
)

func TestNew_ResolvesQueue(t *testing.T) {
	p, err := New[order](context.Background(), NewFactory(newFakeClient()), testConfig(), codec.JSON[order]{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.QueueURL() != "https://sqs.local/000000000000/orders" {
		t.Fatalf("url = %s", p.QueueURL())
	}
	if p.Config().Queue != "orders" {
		t.Fatalf("config not kept")
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	f := NewFactory(newFakeClient())

	bad := testConfig()
	bad.MaxMessages = 11
	_, err := New[order](context.Background(), f, bad, codec.JSON[order]{})
	var ce *ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "MaxMessages" {
		t.Fatalf("err = %v", err)
	}

	_, err = New[order](context.Background(), f, testConfig(), nil)
	if !errors.As(err, &ce) || ce.Field != "Codec" {
		t.Fatalf("err = %v", err)
	}
}

func TestNew_UnknownQueue(t *testing.T) {
	mem := queue.NewMemory()
	_, err := New[order](context.Background(), NewFactory(mem), testConfig(), codec.JSON[order]{})

	var ce *ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "Queue" {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, queue.ErrQueueNotFound) {
		t.Fatalf("err = %v, want ErrQueueNotFound", err)
	}
}

func TestNewFactory_NilClientPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewFactory(nil)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"ok", func(*Config) {}, ""},
		{"empty queue", func(c *Config) { c.Queue = " " }, "Queue"},
		{"zero messages", func(c *Config) { c.MaxMessages = 0 }, "MaxMessages"},
		{"long wait", func(c *Config) { c.WaitTime = 21 * time.Second }, "WaitTime"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, "MaxConcurrency"},
		{"lease too slow", func(c *Config) { c.LeaseRenewEvery = c.VisibilityTimeout }, "LeaseRenewEvery"},
		{"no ack timeout", func(c *Config) { c.AckTimeout = 0 }, "AckTimeout"},
		{"bad policy", func(c *Config) { c.DecodeFailure = 9 }, "DecodeFailure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mut(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("err = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestParseDecodeFailurePolicy(t *testing.T) {
	for in, want := range map[string]DecodeFailurePolicy{"": DecodeFailureDelete, "Delete": DecodeFailureDelete, " retry ": DecodeFailureRetry} {
		got, err := ParseDecodeFailurePolicy(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v err %v", in, got, err)
		}
	}
	if _, err := ParseDecodeFailurePolicy("drop"); err == nil {
		t.Fatalf("expected error")
	}
}
