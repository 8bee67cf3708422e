package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TaskCreated)

	bus.Emit(TaskCreated, "task-1", map[string]any{"n": 1})
	bus.Emit(LockExpired, "task-2", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, TaskCreated, ev.Type)
		assert.Equal(t, "task-1", ev.Subject)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Emit(TaskCreated, "t", nil)
	bus.Emit(SessionJoined, "s", nil)

	require.Equal(t, TaskCreated, (<-ch).Type)
	require.Equal(t, SessionJoined, (<-ch).Type)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1
	ch := bus.Subscribe(TaskCreated)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Emit(TaskCreated, "t", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	// the one buffered event is still there
	assert.Equal(t, TaskCreated, (<-ch).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TaskCreated)
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())
	_, open := <-ch
	assert.False(t, open)
}
