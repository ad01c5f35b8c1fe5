// Package events fans saga lifecycle events out to in-process subscribers
// such as the websocket handler.
package events

import (
	"sync"
	"time"
)

// Event is the canonical event payload broadcast to in-process
// subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster delivers events to any number of in-process subscribers.
// Delivery is best effort: a subscriber whose channel is full misses the
// event rather than blocking the producer.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its channel. After
// Close the returned channel is already closed.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown
// channels are ignored.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast stamps and delivers one event to every current subscriber.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// BroadcastSagaStateChanged emits a saga status transition.
func (b *Broadcaster) BroadcastSagaStateChanged(
	sagaID, name, oldStatus, newStatus string,
	updatedAt time.Time,
) {
	b.Broadcast(Event{
		Type: "saga.state_changed",
		Payload: map[string]any{
			"saga_id":    sagaID,
			"name":       name,
			"old_status": oldStatus,
			"new_status": newStatus,
			"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// BroadcastStepStateChanged emits a step status transition, including the
// failure message and step output when present.
func (b *Broadcaster) BroadcastStepStateChanged(
	sagaID, stepID, stepName, oldStatus, newStatus, errorMessage string,
	output any,
	updatedAt time.Time,
) {
	payload := map[string]any{
		"saga_id":    sagaID,
		"step_id":    stepID,
		"step_name":  stepName,
		"old_status": oldStatus,
		"new_status": newStatus,
		"updated_at": updatedAt.UTC().Format(time.RFC3339Nano),
	}
	if errorMessage != "" {
		payload["error"] = errorMessage
	}
	if output != nil {
		payload["output"] = output
	}

	b.Broadcast(Event{
		Type:    "step.state_changed",
		Payload: payload,
	})
}

// Close closes every subscriber channel; later Broadcast calls are
// dropped and later Subscribe calls receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
