package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"trancheflow/pkg/trace"
)

type fakeStore struct {
	pending []*Event
	failed  []*Event
	sent    []int64
	marked  []int64
	reset   []int64
}

func (f *fakeStore) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	return f.pending, nil
}

func (f *fakeStore) MarkAsSent(ctx context.Context, id int64) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkAsFailed(ctx context.Context, id int64, maxRetries int) error {
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return f.failed, nil
}

func (f *fakeStore) ResetEvent(ctx context.Context, id int64) error {
	if id < 0 {
		return ErrEventNotFound
	}
	f.reset = append(f.reset, id)
	return nil
}

type fakePublisher struct {
	failKey  string
	traceIDs []string
	bodies   []string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if routingKey == p.failKey {
		return errors.New("broker down")
	}
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	b, _ := json.Marshal(payload)
	p.bodies = append(p.bodies, string(b))
	return nil
}

func TestDispatcher_ProcessPendingEvents(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		{ID: 1, RoutingKey: "milestone.funds_released", Payload: json.RawMessage(`{"projectId":"p1","trace_id":"t-1"}`)},
		{ID: 2, RoutingKey: "milestone.broken", Payload: json.RawMessage(`{}`)},
	}}
	pub := &fakePublisher{failKey: "milestone.broken"}
	d := newDispatcher(store, pub, zap.NewNop())

	if n := d.processPendingEvents(context.Background()); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if len(store.sent) != 1 || store.sent[0] != 1 {
		t.Fatalf("sent ids = %v", store.sent)
	}
	if len(store.marked) != 1 || store.marked[0] != 2 {
		t.Fatalf("failed ids = %v", store.marked)
	}
	if pub.traceIDs[0] != "t-1" {
		t.Fatalf("trace id not propagated: %v", pub.traceIDs)
	}
	if pub.bodies[0] != `{"projectId":"p1","trace_id":"t-1"}` {
		t.Fatalf("payload altered: %s", pub.bodies[0])
	}
}

func TestReplayFailedEvents(t *testing.T) {
	store := &fakeStore{failed: []*Event{{ID: 7}, {ID: -1}, {ID: 9}}}
	s := &ReplayService{repo: store}

	n, err := s.ReplayFailedEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ReplayFailedEvents() err=%v", err)
	}
	if n != 2 {
		t.Fatalf("replayed = %d, want 2", n)
	}
	if err := s.ReplayEvent(context.Background(), -1); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	status, next := nextAttempt(2, 5, now)
	if status != StatusPending || next == nil || !next.Equal(now.Add(10*time.Second)) {
		t.Fatalf("nextAttempt(2) = %s %v", status, next)
	}
	status, next = nextAttempt(5, 5, now)
	if status != StatusFailed || next != nil {
		t.Fatalf("nextAttempt(5) = %s %v", status, next)
	}
}
