package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNilDispatcherDiscards(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{Action: "login_success"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero dropped on nil dispatcher")
	}
}

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(8)
	d := New(8, false, sink)

	want := Event{
		Timestamp: time.Now().UTC(),
		Action:    "mfa_enabled",
		Actor:     "u-1",
		TenantID:  "org-1",
		Sequence:  7,
		Success:   true,
	}
	d.Emit(context.Background(), want)

	select {
	case got := <-sink.Events():
		if got.Action != want.Action || got.Sequence != want.Sequence {
			t.Fatalf("event mismatch: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
	d.Close()
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(context.Context, Event) { <-block })
	d := New(1, true, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: "token_rotated"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and full buffer")
	}
	close(block)
	d.Close()
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := New(16, false, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: "token_revoked"})
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case <-sink.Events():
		case <-time.After(time.Second):
			t.Fatalf("missing event %d after Close", i)
		}
	}

	// Emits after Close are discarded, not panics.
	d.Emit(context.Background(), Event{Action: "late"})
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{
		Action:   "audit_appended",
		TenantID: "org-1",
		Success:  true,
		Details:  map[string]string{"seq": "3"},
	})

	var decoded Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON line: %v", err)
	}
	if decoded.Action != "audit_appended" || decoded.Details["seq"] != "3" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }
