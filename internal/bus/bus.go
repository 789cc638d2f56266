package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Session lifecycle topics, published by the host client as events arrive
// from the agent host.
const (
	TopicSessionIdle        = "session.idle"
	TopicSessionDeleted     = "session.deleted"
	TopicTodoUpdated        = "todo.updated"
	TopicMessageUpdated     = "message.updated"
	TopicMessagePartUpdated = "message.part.updated"
)

// Reminder outcome topics, published by the reminder engine.
const (
	TopicReminderSent   = "reminder.sent"
	TopicReminderPaused = "reminder.paused"
)

// Todo is a single item from a session's todo list. ID may be empty for
// todos created without one; Content then serves as the identity key.
type Todo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// SessionIdleEvent is published when a session stops producing output and
// is awaiting input.
type SessionIdleEvent struct {
	SessionID string
}

// SessionDeletedEvent is published when a session is removed on the host.
type SessionDeletedEvent struct {
	SessionID string
}

// TodoUpdatedEvent carries a full todo snapshot for a session.
type TodoUpdatedEvent struct {
	SessionID string
	Todos     []Todo
}

// MessageUpdatedEvent is published when a message in a session changes.
// Role distinguishes user messages from assistant output. Agent and model
// identify the context the message was produced under, when known.
type MessageUpdatedEvent struct {
	SessionID  string
	Role       string // "user" or "assistant"
	AgentID    string
	ProviderID string
	ModelID    string
}

// MessagePartUpdatedEvent is published for partial (streaming) message
// updates.
type MessagePartUpdatedEvent struct {
	SessionID string
	Role      string
}

// ReminderSentEvent is published after a continuation prompt was injected.
type ReminderSentEvent struct {
	SessionID string
	TodoKey   string // identity key of the attributed todo
	Attempt   int    // reminder count for that todo, including this one
	Pending   int    // pending todos at injection time
	Total     int    // total todos at injection time
}

// ReminderPausedEvent is published when loop protection suppresses further
// reminders for a session.
type ReminderPausedEvent struct {
	SessionID   string
	TodoKey     string
	TodoContent string
	Attempts    int
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe creates a subscription for events matching the given topic prefix.
// An empty prefix matches all topics.
// The returned channel has a buffer of 100 events; slow consumers will miss events
// (non-blocking send).
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

// Unsubscribe removes a subscription and closes its channel.
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

// Publish sends an event to all matching subscribers.
// Delivery is non-blocking: if a subscriber's buffer is full, the event is dropped.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			// Non-blocking send.
			select {
			case sub.ch <- event:
			default:
				// Buffer full, drop event for this subscriber.
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
