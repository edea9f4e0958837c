package notify

import (
	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/orders"
)

// VisibleOrder is the role-based visibility rule for order notifications.
// It is a pure function of its inputs and is applied at read time, never at
// storage time.
//
//   - customer: only their own pending orders
//   - sales:    all pending orders
//   - admin:    all pending orders (never completed or cancelled)
func VisibleOrder(role auth.Role, viewerID string, orderStatus orders.Status, customerID string) bool {
	if !orderStatus.IsPending() {
		return false
	}
	switch role {
	case auth.RoleCustomer:
		return viewerID != "" && viewerID == customerID
	case auth.RoleSales, auth.RoleAdmin:
		return true
	default:
		return false
	}
}

// Visible applies the visibility rule to a stored record. System records are
// surfaced to staff roles only.
func Visible(role auth.Role, viewerID string, record Record) bool {
	if record.Type == TypeSystem {
		return role == auth.RoleSales || role == auth.RoleAdmin
	}
	return VisibleOrder(role, viewerID, record.OrderStatus, record.CustomerProfileID)
}
