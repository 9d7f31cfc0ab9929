// Package testutil provides shared test helpers: bus event capture and
// localhost requests for the tsweb debug routes.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/scanbench/internal/eventbus"
)

// NewLocalRequest builds a request that tsweb's debug access check accepts.
func NewLocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Recorded is one captured bus delivery.
type Recorded struct {
	Topic string
	Event any
}

// EventRecorder captures every event published on a set of topics, in
// delivery order.
type EventRecorder struct {
	mu     sync.Mutex
	events []Recorded
	notify chan struct{}
}

// NewEventRecorder subscribes to topics on bus. Subscriptions are removed
// when the test ends.
func NewEventRecorder(t testing.TB, bus *eventbus.Bus, topics ...string) *EventRecorder {
	r := &EventRecorder{notify: make(chan struct{}, 1)}
	for _, topic := range topics {
		topic := topic
		id := bus.Subscribe(topic, func(e any) {
			r.mu.Lock()
			r.events = append(r.events, Recorded{Topic: topic, Event: e})
			r.mu.Unlock()
			select {
			case r.notify <- struct{}{}:
			default:
			}
		})
		t.Cleanup(func() { bus.Unsubscribe(topic, id) })
	}
	return r
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Topics returns the topic of each recorded event in order.
func (r *EventRecorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

// Count returns how many events were recorded on topic.
func (r *EventRecorder) Count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n events were recorded on topic, failing the
// test after timeout.
func (r *EventRecorder) WaitFor(t testing.TB, topic string, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for r.Count(topic) < n {
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d %q events, got %d", n, topic, r.Count(topic))
		}
	}
}

// EventsOf returns the recorded payloads of type T in order.
func EventsOf[T any](r *EventRecorder) []T {
	var out []T
	for _, e := range r.Events() {
		if v, ok := e.Event.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
