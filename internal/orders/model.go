package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the order lifecycle states exposed by the commerce app.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidStatus indicates an order status outside the known lifecycle.
var ErrInvalidStatus = errors.New("orders: invalid status")

// ParseStatus validates raw input and returns a Status.
func ParseStatus(rawInput string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(rawInput))) {
	case StatusPending:
		return StatusPending, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusPreparing:
		return StatusPreparing, nil
	case StatusDelivered:
		return StatusDelivered, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// IsPending reports whether the status is the notification-relevant state.
func (s Status) IsPending() bool {
	return s == StatusPending
}

// Label returns the human-readable label used in outbound messages.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending confirmation"
	case StatusConfirmed:
		return "Confirmed"
	case StatusPreparing:
		return "Being prepared"
	case StatusDelivered:
		return "Delivered"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// Order models a persisted order row.
type Order struct {
	ID                string  `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Status            string  `gorm:"column:status;size:32;not null;index:idx_orders_status_created,priority:1" json:"status"`
	CreatedAtSeconds  int64   `gorm:"column:created_at_s;not null;index:idx_orders_status_created,priority:2" json:"created_at_s"`
	CustomerProfileID string  `gorm:"column:customer_profile_id;size:190;not null" json:"customer_profile_id"`
	CustomerName      string  `gorm:"column:customer_name;size:190;not null;default:''" json:"customer_name"`
	CustomerPhone     string  `gorm:"column:customer_phone;size:32;not null;default:''" json:"customer_phone"`
	SubtotalCents     int64   `gorm:"column:subtotal_cents;not null;default:0" json:"subtotal_cents"`
	DeliveryFeeCents  int64   `gorm:"column:delivery_fee_cents;not null;default:0" json:"delivery_fee_cents"`
	DiscountCents     int64   `gorm:"column:discount_cents;not null;default:0" json:"discount_cents"`
	TotalCents        int64   `gorm:"column:total_cents;not null;default:0" json:"total_cents"`
	Items             []Item  `gorm:"foreignKey:OrderID;references:ID" json:"items,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Order) TableName() string {
	return "orders"
}

// Item models one order line item.
type Item struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderID        string `gorm:"column:order_id;size:190;not null;index" json:"order_id"`
	Name           string `gorm:"column:name;size:190;not null" json:"name"`
	Quantity       int    `gorm:"column:quantity;not null" json:"quantity"`
	UnitPriceCents int64  `gorm:"column:unit_price_cents;not null" json:"unit_price_cents"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "order_items"
}
