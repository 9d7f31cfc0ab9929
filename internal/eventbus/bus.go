// Package eventbus provides the synchronous publish/subscribe bus that the
// scan, motion and executor layers use to announce state changes.
//
// A Bus is constructed once by the composition root and handed to every
// publisher and subscriber. Publish invokes handlers in subscription order on
// the publishing goroutine, so a slow handler delays both later handlers and
// the publisher.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/scanbench/internal/monitoring"
)

var logf = monitoring.Logger("eventbus")

// Handler receives a published event.
type Handler func(event any)

// Event is implemented by payloads that know their own topic.
type Event interface {
	Topic() string
}

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(topic string, event any)
}

// Subscriber is the subscribing half of the bus.
type Subscriber interface {
	Subscribe(topic string, h Handler) string
	Unsubscribe(topic, id string) bool
}

type subscription struct {
	id      string
	handler Handler
}

// Bus is a topic-keyed synchronous event bus. It is safe for concurrent use;
// handlers may subscribe or unsubscribe from inside a handler.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// Subscribe registers h for topic and returns the subscription id used to
// unsubscribe. A nil handler is ignored and yields an empty id.
func (b *Bus) Subscribe(topic string, h Handler) string {
	if h == nil {
		return ""
	}
	id := uuid.NewString()
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes the subscription with the given id from topic. It
// reports whether a subscription was removed.
func (b *Bus) Unsubscribe(topic, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy so in-flight Publish snapshots are not disturbed
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = next
		}
		return true
	}
	return false
}

// UnsubscribeAll drops every subscription. Called at shutdown.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	b.topics = make(map[string][]subscription)
	b.mu.Unlock()
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish delivers event to every handler subscribed to topic, in
// subscription order. A panicking handler is logged and does not prevent
// delivery to the remaining handlers.
func (b *Bus) Publish(topic string, event any) {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(topic, s, event)
	}
}

// PublishEvent publishes e on its own topic.
func (b *Bus) PublishEvent(e Event) {
	b.Publish(e.Topic(), e)
}

func (b *Bus) deliver(topic string, s subscription, event any) {
	defer func() {
		if r := recover(); r != nil {
			logf("handler %s on %q panicked: %v", s.id, topic, r)
		}
	}()
	s.handler(event)
}
