package util

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduper(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Minute)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if !d.AcquireOnce(ctx, "audit", "e1") {
		t.Fatalf("first delivery should be processed")
	}
	if d.AcquireOnce(ctx, "audit", "e1") {
		t.Fatalf("duplicate delivery should be skipped")
	}
	if !d.AcquireOnce(ctx, "metrics", "e1") {
		t.Fatalf("other handler should process the same event")
	}

	now = now.Add(2 * time.Minute)
	if !d.AcquireOnce(ctx, "audit", "e1") {
		t.Fatalf("expired key should be processed again")
	}
}
