package pump

import (
	"testing"

	"github.com/baldanca/queue-pump/queue"
)

func TestMessageContext_AttributeInt(t *testing.T) {
	mc := newMessageContext("memory://q", queue.Envelope{
		ID:         "m1",
		Attributes: map[string]string{"n": "42", "bad": "abc"},
	})

	if _, ok, err := mc.AttributeInt("missing"); ok || err != nil {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	if v, ok, err := mc.AttributeInt("n"); !ok || err != nil || v != 42 {
		t.Fatalf("n: v=%d ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := mc.AttributeInt("bad"); ok || err == nil {
		t.Fatalf("bad: ok=%v err=%v", ok, err)
	}
}

func TestMessageContext_RetryCountUnknown(t *testing.T) {
	mc := newMessageContext("memory://q", queue.Envelope{ID: "m1"})
	if _, ok := mc.RetryCount(); ok {
		t.Fatalf("retry count must be unknown without a receive count")
	}
	if mc.retries() != 0 {
		t.Fatalf("retries = %d", mc.retries())
	}
}

func TestMessageContext_IsolatedFromEnvelope(t *testing.T) {
	attrs := map[string]string{"k": "v"}
	mc := newMessageContext("memory://q", queue.Envelope{ID: "m1", Attributes: attrs, ReceiveCount: 1})
	attrs["k"] = "changed"

	if v, _ := mc.Attribute("k"); v != "v" {
		t.Fatalf("attribute = %q", v)
	}
	if n, ok := mc.RetryCount(); !ok || n != 0 {
		t.Fatalf("retry count = %d,%v", n, ok)
	}
}
