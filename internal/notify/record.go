package notify

import (
	"github.com/google/uuid"

	"github.com/merkatolabs/merkato/backend/internal/orders"
)

// Type distinguishes order-driven notifications from synthetic system ones.
type Type string

const (
	TypeOrder  Type = "order"
	TypeSystem Type = "system"
)

// Priority grades how prominently a notification should be surfaced.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Record is one stored notification. Records are mutated only through Store
// methods.
type Record struct {
	ID                string        `json:"id"`
	SourceOrderID     string        `json:"source_order_id,omitempty"`
	Type              Type          `json:"type"`
	Title             string        `json:"title"`
	Message           string        `json:"message"`
	CustomerProfileID string        `json:"customer_profile_id,omitempty"`
	OrderStatus       orders.Status `json:"order_status,omitempty"`
	TimestampSeconds  int64         `json:"timestamp_s"`
	Read              bool          `json:"read"`
	Priority          Priority      `json:"priority"`
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
