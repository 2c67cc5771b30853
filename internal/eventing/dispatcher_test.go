package eventing

import (
	"context"
	"testing"
	"time"

	"roomcast-cloud/internal/commands/application/events"
	"roomcast-cloud/internal/eventing/eventbus"
)

type fakeOutbox struct {
	pending []OutboxRecord
	sent    []string
	failed  []string
}

func (f *fakeOutbox) ListPending(_ context.Context, _ int) ([]OutboxRecord, error) {
	return f.pending, nil
}

func (f *fakeOutbox) MarkSent(_ context.Context, id string) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id string) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDLQ struct {
	records []Envelope
}

func (f *fakeDLQ) RecordFailure(_ context.Context, env Envelope, _ error) error {
	f.records = append(f.records, env)
	return nil
}

func TestDispatchDeliversExpiredEvents(t *testing.T) {
	registry := NewRegistry()
	registry.Register(events.CommandExpired{})
	bus := eventbus.NewInMemoryBus()

	var got []events.CommandExpired
	bus.Subscribe(eventbus.EventTypeOf[events.CommandExpired](), func(ctx context.Context, event any) error {
		evt, ok := event.(events.CommandExpired)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		got = append(got, evt)
		return nil
	})

	expiredAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	env, err := BuildEnvelope(events.CommandExpired{
		CommandID: "cmd-1",
		DeviceID:  "dev-1",
		ExpiredAt: expiredAt,
	}, Meta{TenantID: "hotel-1"})
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if env.DeviceID != "dev-1" {
		t.Fatalf("device id not stamped on envelope: %+v", env)
	}

	outbox := &fakeOutbox{pending: []OutboxRecord{{ID: "ob-1", Envelope: env}}}
	dlq := &fakeDLQ{}
	d := NewDispatcher(bus, outbox, registry, dlq)

	if err := d.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(got) != 1 || got[0].CommandID != "cmd-1" || got[0].DeviceID != "dev-1" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
	if !got[0].ExpiredAt.Equal(expiredAt) {
		t.Errorf("expired at = %v, want %v", got[0].ExpiredAt, expiredAt)
	}
	if len(outbox.sent) != 1 || outbox.sent[0] != "ob-1" {
		t.Errorf("record not marked sent: %v", outbox.sent)
	}
	if len(dlq.records) != 0 {
		t.Errorf("unexpected dead letters: %v", dlq.records)
	}
}

func TestDispatchUnknownEventTypeDeadLetters(t *testing.T) {
	registry := NewRegistry()
	bus := eventbus.NewInMemoryBus()

	env := Envelope{
		EventID:   "evt-1",
		EventType: "events.Unregistered",
		Payload:   []byte(`{}`),
	}
	outbox := &fakeOutbox{pending: []OutboxRecord{{ID: "ob-1", Envelope: env}}}
	dlq := &fakeDLQ{}
	d := NewDispatcher(bus, outbox, registry, dlq)

	if err := d.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(outbox.failed) != 1 || outbox.failed[0] != "ob-1" {
		t.Errorf("record not marked failed: %v", outbox.failed)
	}
	if len(dlq.records) != 1 || dlq.records[0].EventID != "evt-1" {
		t.Errorf("failure not dead-lettered: %v", dlq.records)
	}
}
