// Package events provides the in-process event bus and the append-only
// audit log for prompt and schedule activity.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventPromptInserted    EventType = "prompt_inserted"
	EventPromptCompleted   EventType = "prompt_completed"
	EventAgentProvisioned  EventType = "agent_provisioned"
	EventScheduleArmed     EventType = "schedule_armed"
	EventScheduleFired     EventType = "schedule_fired"
	EventScheduleCancelled EventType = "schedule_cancelled"
	EventScheduleExpired   EventType = "schedule_expired"
	EventOrphanCleared     EventType = "orphan_timer_cleared"
	EventCorruptDiscarded  EventType = "corrupt_schedule_discarded"
)

// Event represents a system event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking event bus. Events are delivered asynchronously via
// buffered channels; if a subscriber's channel is full, the event is dropped
// silently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

// NewBus creates a new event bus with the specified buffer size per
// subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type. The subscriber
// function is called asynchronously in a goroutine. Returns an unsubscribe
// function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() {
					// A panicking subscriber must not take the bus down.
					_ = recover()
				}()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, c := range subs {
			if c == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// Publish sends an event to all subscribers of its type. Never blocks.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	// The lock stays held across delivery: an unsubscribe closes the
	// channel, and sending on a closed channel panics. The sends are
	// non-blocking, so holding it is cheap.
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}
