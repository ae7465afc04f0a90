package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const (
	EventReservationCreated  = "reservation_created"
	EventReservationUpdated  = "reservation_updated"
	EventReservationDeleted  = "reservation_deleted"
	EventReservationReserved = "reservation_reserved"
	EventReservationReleased = "reservation_released"
)

// ReservationEventPayload describes the minimal reservation snapshot for
// event consumers.
type ReservationEventPayload struct {
	ReservationID int64  `json:"reservation_id"`
	Location      string `json:"location"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Reserved      bool   `json:"reserved"`
	ImageName     string `json:"image_name,omitempty"`
	ChangedBy     string `json:"changed_by,omitempty"`
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

// Publish delivers the event synchronously to every subscriber of its
// type. The first handler error aborts delivery and is returned.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := b.subscribers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			return fmt.Errorf("handler for %s: %w", event.Type, err)
		}
	}
	return nil
}

// PublishJSON marshals payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return b.Publish(&Event{Type: eventType, Payload: data, CreatedAt: time.Now()})
}
