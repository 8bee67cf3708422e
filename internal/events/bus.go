// Package events is the in-process pub/sub bus carrying lifecycle events
// (task-created, lock-expired, ...) between the engine and the hub.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types emitted by the server.
const (
	TaskCreated       = "task-created"
	TaskAssigned      = "task-assigned"
	TaskCompleted     = "task-completed"
	TaskTimeout       = "task-timeout"
	TaskFailed        = "task-failed"
	LockExpired       = "lock-expired"
	SessionJoined     = "session-joined"
	SessionLeft       = "session-left"
	Intervention      = "intervention"
	DiscussionUpdated = "discussion-updated"
)

// Event is the envelope every subscriber receives. Data payloads must be
// self-sufficient: subscribers may observe events after the state that
// produced them has already moved on.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Subject string         `json:"subject,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data"`
}

// Emitter is the publishing half of the bus, the only part producers see.
type Emitter interface {
	Emit(eventType, subject string, data map[string]any)
}

// Bus is an in-process pub/sub event bus. Publish never blocks: a slow
// subscriber loses events rather than stalling producers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *Event // eventType -> channels
	allSubs     []chan *Event
	bufferSize  int
}

// NewBus creates an event bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan *Event),
		bufferSize:  100,
	}
}

// Subscribe creates a channel receiving events of the given types.
// Pass no types to receive all events.
func (b *Bus) Subscribe(eventTypes ...string) chan *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufferSize)
	if len(eventTypes) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, et := range eventTypes {
			b.subscribers[et] = append(b.subscribers[et], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for et, subs := range b.subscribers {
		b.subscribers[et] = removeChan(subs, ch)
	}
	b.allSubs = removeChan(b.allSubs, ch)
	close(ch)
}

func removeChan(subs []chan *Event, ch chan *Event) []chan *Event {
	filtered := subs[:0]
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Publish delivers an event to all matching subscribers without blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than block the producer.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Emit creates and publishes an event in one call.
func (b *Bus) Emit(eventType, subject string, data map[string]any) {
	b.Publish(&Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Subject: subject,
		Time:    time.Now(),
		Data:    data,
	})
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	return count
}
