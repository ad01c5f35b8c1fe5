package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
		return Event{}
	}
}

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{
		Type:    "saga.state_changed",
		Payload: map[string]any{"saga_id": "saga-1"},
	})

	event := recvEvent(t, ch)
	if event.Type != "saga.state_changed" {
		t.Fatalf("type = %q, want saga.state_changed", event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Error("broadcast must stamp a timestamp")
	}

	b.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("unsubscribed channel must be closed")
	}
}

func TestBroadcasterSagaAndStepHelpers(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(2)

	b.BroadcastSagaStateChanged("saga-1", "order-fulfillment", "CREATED", "RUNNING", time.Now().UTC())
	b.BroadcastStepStateChanged("saga-1", "step-1", "reserve-inventory", "CREATED", "RUNNING", "", nil, time.Now().UTC())

	first := recvEvent(t, ch)
	if first.Type != "saga.state_changed" {
		t.Errorf("first type = %q, want saga.state_changed", first.Type)
	}
	second := recvEvent(t, ch)
	if second.Type != "step.state_changed" {
		t.Errorf("second type = %q, want step.state_changed", second.Type)
	}
	payload, ok := second.Payload.(map[string]any)
	if !ok {
		t.Fatalf("step payload type = %T, want map", second.Payload)
	}
	if payload["step_name"] != "reserve-inventory" {
		t.Errorf("step_name = %v, want reserve-inventory", payload["step_name"])
	}
}

func TestBroadcasterFullSubscriberMissesEvent(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe(1)
	fast := b.Subscribe(2)

	b.Broadcast(Event{Type: "saga.state_changed"})
	b.Broadcast(Event{Type: "saga.state_changed"})

	if got := len(slow); got != 1 {
		t.Errorf("slow subscriber buffered %d events, want 1", got)
	}
	if got := len(fast); got != 2 {
		t.Errorf("fast subscriber buffered %d events, want 2", got)
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Close()
	if _, open := <-ch; open {
		t.Error("subscriber channel must be closed after Close")
	}

	// Safe after Close: broadcasts are dropped and new subscriptions come
	// back already closed.
	b.Broadcast(Event{Type: "saga.state_changed"})
	late := b.Subscribe(1)
	if _, open := <-late; open {
		t.Error("post-close Subscribe must return a closed channel")
	}
}
