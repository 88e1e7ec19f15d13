// Package events implements the subscription feed between the engine and the
// UI layer: every successful apply/restore and every settled action is
// published here, so list views re-render without the engine knowing anything
// about rendering.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventEntityApplied is published after every successful optimistic Apply.
	EventEntityApplied EventType = "entity_applied"
	// EventEntityRestored is published after a rollback Restore.
	EventEntityRestored EventType = "entity_restored"
	// EventActionCommitted is published when a commit is confirmed remotely.
	EventActionCommitted EventType = "action_committed"
	// EventActionCancelled is published when an undo wins the race.
	EventActionCancelled EventType = "action_cancelled"
	// EventActionFailed is published when a commit fails and rollback ran.
	EventActionFailed EventType = "action_failed"
)

// Event is one engine occurrence. EntityID is always set; ActionID and
// Version are set where they apply.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	EntityID  string         `json:"entity_id"`
	ActionID  string         `json:"action_id,omitempty"`
	Version   int            `json:"version,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking pub/sub bus. Events are delivered asynchronously via
// buffered channels; if a subscriber's channel is full the event is dropped
// for that subscriber rather than blocking the publisher.
type Bus struct {
	mu         sync.RWMutex
	subs       map[EventType][]chan Event
	allSubs    []chan Event
	bufferSize int
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subs:       make(map[EventType][]chan Event),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a subscriber for a specific event type. The subscriber
// function is called asynchronously. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.startSubscriber(fn)
	b.subs[eventType] = append(b.subs[eventType], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[eventType] = removeChannel(b.subs[eventType], ch)
	}
}

// SubscribeAll registers a subscriber for every event type. Used by the UI
// feed and the action journal.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.startSubscriber(fn)
	b.allSubs = append(b.allSubs, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = removeChannel(b.allSubs, ch)
	}
}

func (b *Bus) startSubscriber(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
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
	return ch
}

func removeChannel(subs []chan Event, ch chan Event) []chan Event {
	for i, c := range subs {
		if c == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish sends an event to subscribers of its type and to all-event
// subscribers. The bus stamps the timestamp.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event.Timestamp = time.Now().UTC()

	for _, ch := range b.subs[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, eventType)
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
	b.allSubs = nil
}
