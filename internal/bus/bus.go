// Package bus is a small in-process pub/sub hub. The tailer and the session
// registry publish lifecycle events on it; SSE handlers and the health
// endpoint subscribe.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Session lifecycle topics.
const (
	TopicSessionRegistered = "session.registered"
	TopicSessionRemoved    = "session.removed"
	TopicSessionActivity   = "session.activity"
)

// Channel lifecycle topics.
const (
	TopicTerminalAttached = "terminal.attached"
	TopicTerminalDetached = "terminal.detached"
	TopicTerminalExited   = "terminal.exited"
	TopicTailChanged      = "tail.changed"
)

// SessionEvent is the payload for session.* topics.
type SessionEvent struct {
	SessionID string
	Workdir   string
}

// TerminalEvent is the payload for terminal.* topics.
type TerminalEvent struct {
	SessionID string
	ConnID    string
}

// TailEvent is the payload for tail.changed: one delivered tail event.
type TailEvent struct {
	Path string
	Kind string // protocol.TailInitial, TailAppend, TailReplace, TailError
	Size int    // payload bytes delivered
}

// Subscription is an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus fans events out to subscribers by topic prefix.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers for events whose topic starts with topicPrefix. An
// empty prefix matches everything. The channel is buffered; slow consumers
// miss events rather than blocking publishers.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// with nil or an already-removed subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to every matching subscriber without blocking; a
// full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
