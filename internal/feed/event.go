package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/merkatolabs/merkato/backend/internal/orders"
)

// EventKind tags the change-feed mutation variants.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

var (
	// ErrMalformedEvent indicates a change payload that cannot be decoded.
	ErrMalformedEvent = errors.New("feed: malformed change event")
)

// OrderEvent is one decoded change-feed mutation. For Insert and Update the
// Order field carries the new row; for Delete it carries the old row.
// Previous is only populated for Update events.
type OrderEvent struct {
	Kind     EventKind
	Order    orders.Order
	Previous *orders.Order
}

// PreviousStatus returns the prior order status when known.
func (e OrderEvent) PreviousStatus() (orders.Status, bool) {
	if e.Previous == nil {
		return "", false
	}
	return orders.Status(e.Previous.Status), true
}

// NewInsertEvent builds an Insert event from the inserted row.
func NewInsertEvent(row orders.Order) OrderEvent {
	return OrderEvent{Kind: EventInsert, Order: row}
}

// NewUpdateEvent builds an Update event from the new and prior rows.
func NewUpdateEvent(row orders.Order, previous *orders.Order) OrderEvent {
	return OrderEvent{Kind: EventUpdate, Order: row, Previous: previous}
}

// NewDeleteEvent builds a Delete event from the deleted row.
func NewDeleteEvent(row orders.Order) OrderEvent {
	return OrderEvent{Kind: EventDelete, Order: row}
}

type changePayload struct {
	EventType string        `json:"eventType"`
	New       *orders.Order `json:"new"`
	Old       *orders.Order `json:"old"`
}

// DecodeChangePayload parses one wire-format change frame into an OrderEvent.
func DecodeChangePayload(data []byte) (OrderEvent, error) {
	var payload changePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return payload.toEvent()
}

func (p changePayload) toEvent() (OrderEvent, error) {
	switch EventKind(p.EventType) {
	case EventInsert:
		if p.New == nil {
			return OrderEvent{}, fmt.Errorf("%w: insert without new row", ErrMalformedEvent)
		}
		return NewInsertEvent(*p.New), nil
	case EventUpdate:
		if p.New == nil {
			return OrderEvent{}, fmt.Errorf("%w: update without new row", ErrMalformedEvent)
		}
		return NewUpdateEvent(*p.New, p.Old), nil
	case EventDelete:
		if p.Old == nil {
			return OrderEvent{}, fmt.Errorf("%w: delete without old row", ErrMalformedEvent)
		}
		return NewDeleteEvent(*p.Old), nil
	default:
		return OrderEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, p.EventType)
	}
}
