package notify

import (
	"testing"

	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/orders"
)

func TestVisibleOrder(t *testing.T) {
	testCases := []struct {
		name       string
		role       auth.Role
		viewerID   string
		status     orders.Status
		customerID string
		expected   bool
	}{
		{"customer sees own pending order", auth.RoleCustomer, "cust-1", orders.StatusPending, "cust-1", true},
		{"customer does not see another customer's order", auth.RoleCustomer, "cust-1", orders.StatusPending, "cust-2", false},
		{"customer does not see own confirmed order", auth.RoleCustomer, "cust-1", orders.StatusConfirmed, "cust-1", false},
		{"customer with empty id sees nothing", auth.RoleCustomer, "", orders.StatusPending, "", false},
		{"sales sees any pending order", auth.RoleSales, "staff-1", orders.StatusPending, "cust-2", true},
		{"sales does not see delivered order", auth.RoleSales, "staff-1", orders.StatusDelivered, "cust-2", false},
		{"admin sees any pending order", auth.RoleAdmin, "staff-2", orders.StatusPending, "cust-9", true},
		{"admin does not see cancelled order", auth.RoleAdmin, "staff-2", orders.StatusCancelled, "cust-9", false},
		{"unknown role sees nothing", auth.Role("intern"), "x", orders.StatusPending, "cust-1", false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := VisibleOrder(testCase.role, testCase.viewerID, testCase.status, testCase.customerID)
			if got != testCase.expected {
				t.Fatalf("VisibleOrder(%s, %q, %s, %q) = %v, expected %v",
					testCase.role, testCase.viewerID, testCase.status, testCase.customerID, got, testCase.expected)
			}
		})
	}
}

func TestVisibleSystemRecords(t *testing.T) {
	record := Record{Type: TypeSystem, Title: "Order feed out of sync"}

	if !Visible(auth.RoleAdmin, "staff-1", record) {
		t.Fatalf("expected system record visible to admin")
	}
	if !Visible(auth.RoleSales, "staff-2", record) {
		t.Fatalf("expected system record visible to sales")
	}
	if Visible(auth.RoleCustomer, "cust-1", record) {
		t.Fatalf("expected system record hidden from customers")
	}
}
