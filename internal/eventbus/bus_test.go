package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanbench/internal/monitoring"
)

type pingEvent struct{ n int }

func (pingEvent) Topic() string { return "ping" }

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := New()
	var order []string
	bus.Subscribe("scan.started", func(any) { order = append(order, "first") })
	bus.Subscribe("scan.started", func(any) { order = append(order, "second") })
	bus.Subscribe("scan.completed", func(any) { order = append(order, "other") })

	bus.Publish("scan.started", "payload")

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_PassesEventThrough(t *testing.T) {
	bus := New()
	var got any
	bus.Subscribe("ping", func(e any) { got = e })

	bus.PublishEvent(pingEvent{n: 7})

	require.IsType(t, pingEvent{}, got)
	assert.Equal(t, 7, got.(pingEvent).n)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	calls := 0
	id := bus.Subscribe("topic", func(any) { calls++ })
	require.NotEmpty(t, id)

	assert.True(t, bus.Unsubscribe("topic", id))
	assert.False(t, bus.Unsubscribe("topic", id))
	assert.False(t, bus.Unsubscribe("missing", id))

	bus.Publish("topic", nil)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriberCount("topic"))
}

func TestBus_UnsubscribeAll(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe("a", func(any) { calls++ })
	bus.Subscribe("b", func(any) { calls++ })

	bus.UnsubscribeAll()
	bus.Publish("a", nil)
	bus.Publish("b", nil)

	assert.Equal(t, 0, calls)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	logged := 0
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })

	bus := New()
	reached := false
	bus.Subscribe("topic", func(any) { panic("boom") })
	bus.Subscribe("topic", func(any) { reached = true })

	assert.NotPanics(t, func() { bus.Publish("topic", nil) })
	assert.True(t, reached)
	assert.Equal(t, 1, logged)
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	bus := New()
	assert.Empty(t, bus.Subscribe("topic", nil))
	assert.Equal(t, 0, bus.SubscriberCount("topic"))
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	bus := New()
	var id string
	calls := 0
	id = bus.Subscribe("topic", func(any) {
		calls++
		bus.Unsubscribe("topic", id)
	})

	bus.Publish("topic", nil)
	bus.Publish("topic", nil)
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := New()
	var mu sync.Mutex
	total := 0
	bus.Subscribe("topic", func(any) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish("topic", j)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, total)
}
