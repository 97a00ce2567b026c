package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_PreservesOrder(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	defer b.Close()

	var mu sync.Mutex
	var got []string
	b.SubscribeMultiple(AllEventTypes, func(e Event) {
		mu.Lock()
		got = append(got, e.Data["state"].(string))
		mu.Unlock()
	})

	states := []string{"capturing", "processing", "speaking", "idle"}
	for _, s := range states {
		b.Publish(Event{Type: EventTypeStateChanged, Data: map[string]any{"state": s}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(states)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, states, got)
}

func TestPublish_OnlyMatchingType(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	defer b.Close()

	var notices, responses atomic.Int32
	b.Subscribe(EventTypeNotice, func(Event) { notices.Add(1) })
	b.Subscribe(EventTypeResponse, func(Event) { responses.Add(1) })

	b.Publish(Event{Type: EventTypeNotice})
	b.Publish(Event{Type: EventTypeNotice})

	require.Eventually(t, func() bool { return notices.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), responses.Load())
}

func TestPublishSync_RecoversPanics(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	defer b.Close()

	var called atomic.Int32
	b.Subscribe(EventTypeTurnCompleted, func(Event) { panic("boom") })
	b.Subscribe(EventTypeTurnCompleted, func(Event) { called.Add(1) })

	assert.NotPanics(t, func() {
		b.PublishSync(Event{Type: EventTypeTurnCompleted})
	})
	assert.Equal(t, int32(1), called.Load())
}

func TestPublish_SetsTime(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	defer b.Close()

	ch := make(chan Event, 1)
	b.Subscribe(EventTypeTranscript, func(e Event) { ch <- e })
	b.Publish(Event{Type: EventTypeTranscript})

	select {
	case e := <-ch:
		assert.False(t, e.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestClear(t *testing.T) {
	b := NewEventBus(zerolog.Nop())
	defer b.Close()

	var called atomic.Int32
	b.Subscribe(EventTypeNotice, func(Event) { called.Add(1) })
	b.Clear()
	b.PublishSync(Event{Type: EventTypeNotice})
	assert.Equal(t, int32(0), called.Load())
}

func TestClose_DropsLaterEvents(t *testing.T) {
	b := NewEventBus(zerolog.Nop())

	var called atomic.Int32
	b.Subscribe(EventTypeNotice, func(Event) { called.Add(1) })
	b.Close()
	b.Publish(Event{Type: EventTypeNotice})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), called.Load())
}
