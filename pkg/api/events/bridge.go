package events

import (
	"context"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/logger"
)

// Bridge pumps lifecycle envelopes from the event bus to a sink, typically
// the websocket connection manager.
type Bridge struct {
	bus  *eventbus.MemoryBus
	log  logger.Logger
	sink func(Event)
	sub  *eventbus.Subscription
	done chan struct{}
}

// NewBridge creates a bridge delivering decoded envelopes to sink.
func NewBridge(bus *eventbus.MemoryBus, log logger.Logger, sink func(Event)) *Bridge {
	return &Bridge{
		bus:  bus,
		log:  log,
		sink: sink,
		done: make(chan struct{}),
	}
}

// Start subscribes to all lifecycle subjects and begins forwarding.
func (b *Bridge) Start(ctx context.Context) error {
	sub, err := b.bus.Subscribe(eventbus.AllSubjects(), 256)
	if err != nil {
		return err
	}
	b.sub = sub

	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				envelope, err := eventbus.Unmarshal(msg.Payload)
				if err != nil {
					if b.log != nil {
						b.log.Warn("dropping undecodable lifecycle event", "subject", msg.Subject, "error", err)
					}
					continue
				}
				b.sink(Event{
					Type:      envelope.EventType,
					Timestamp: envelope.Timestamp,
					Payload:   envelope,
				})
			}
		}
	}()
	return nil
}

// Close stops forwarding and releases the subscription.
func (b *Bridge) Close() {
	if b.sub == nil {
		return
	}
	_ = b.sub.Close()
	<-b.done
}
