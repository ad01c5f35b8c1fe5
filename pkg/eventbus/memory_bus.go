package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Message is one lifecycle event as delivered to a subscriber. Payload is a
// marshaled Envelope; each subscriber gets its own copy.
type Message struct {
	Subject   string
	Payload   []byte
	Timestamp time.Time
}

// Subscription is one live subject-pattern subscription on the bus.
type Subscription struct {
	pattern string
	ch      chan Message
	bus     *MemoryBus
	once    sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close detaches the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.detach(s)
		close(s.ch)
	})
	return nil
}

// MemoryBus fans saga and step lifecycle events out to in-process
// subscribers. Delivery is best effort: a subscriber whose buffer is full
// misses the event rather than stalling the engine mid-step.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers payload to every subscription whose pattern matches
// subject.
func (b *MemoryBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subject == "" {
		return fmt.Errorf("eventbus: subject cannot be empty")
	}

	msg := Message{
		Subject:   subject,
		Payload:   append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !subjectMatches(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// full buffer, drop rather than block the publisher
		}
	}
	return nil
}

// Subscribe registers a subject pattern ("*" matches one token, a trailing
// ">" matches the rest) and returns the subscription.
func (b *MemoryBus) Subscribe(pattern string, buffer int) (*Subscription, error) {
	if pattern == "" {
		return nil, fmt.Errorf("eventbus: subscription pattern cannot be empty")
	}
	if buffer <= 0 {
		buffer = 32
	}
	sub := &Subscription{
		pattern: pattern,
		ch:      make(chan Message, buffer),
		bus:     b,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *MemoryBus) detach(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// subjectMatches reports whether a dotted subject satisfies a pattern.
// Within a token position "*" matches any single token; a pattern ending in
// ">" matches the prefix and everything below it.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, ".>") {
		prefix := strings.TrimSuffix(pattern, ".>")
		if prefix == "" {
			return true
		}
		return subject == prefix || strings.HasPrefix(subject, prefix+".")
	}

	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")
	if len(patternTokens) != len(subjectTokens) {
		return false
	}
	for i, token := range patternTokens {
		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}
	return true
}
