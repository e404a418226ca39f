package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventPostScheduled = "post_scheduled"
	EventPostPublished = "post_published"
	EventPostFailed    = "post_failed"
	EventPostCancelled = "post_cancelled"
)

// PostEventPayload is the minimal post snapshot carried by events.
type PostEventPayload struct {
	PostID      int64     `json:"post_id"`
	PublicID    string    `json:"public_id"`
	ContentID   string    `json:"content_id"`
	OwnerID     string    `json:"owner_id"`
	ServiceType string    `json:"service_type"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Repeat      string    `json:"repeat,omitempty"`
	RetryCount  int       `json:"retry_count"`
	Reason      string    `json:"reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
