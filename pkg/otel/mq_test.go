package otel

import "testing"

func TestMQHeaderCarrier(t *testing.T) {
	headers := map[string]interface{}{"trace_id": "abc", "x-count": 3}
	c := NewMQHeaderCarrier(headers)

	c.Set("traceparent", "00-0123-4567-01")
	if got := c.Get("traceparent"); got != "00-0123-4567-01" {
		t.Fatalf("Get(traceparent) = %q", got)
	}
	if headers["traceparent"] != "00-0123-4567-01" {
		t.Fatalf("Set must write through to the underlying headers")
	}
	if got := c.Get("x-count"); got != "" {
		t.Fatalf("non-string header should read as empty, got %q", got)
	}
	if len(c.Keys()) != 3 {
		t.Fatalf("Keys() = %v", c.Keys())
	}

	empty := NewMQHeaderCarrier(nil)
	empty.Set("k", "v")
	if empty.Get("k") != "v" {
		t.Fatalf("nil headers should be initialised")
	}
}
