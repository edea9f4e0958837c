package delivery

import (
	"strings"
	"testing"

	"github.com/merkatolabs/merkato/backend/internal/orders"
)

func TestRenderOrderMessage(t *testing.T) {
	order := orders.Order{
		ID:               "ORD-42",
		Status:           "pending",
		CustomerName:     "Abel Tesfaye",
		CustomerPhone:    "+251911000000",
		SubtotalCents:    35000,
		DeliveryFeeCents: 5000,
		DiscountCents:    2500,
		TotalCents:       37500,
		Items: []orders.Item{
			{Name: "Doro Wat", Quantity: 2, UnitPriceCents: 15000},
			{Name: "Injera", Quantity: 5, UnitPriceCents: 1000},
		},
	}

	message := RenderOrderMessage(order)
	expectedLines := []string{
		"New order ORD-42",
		"Status: Pending confirmation",
		"Customer: Abel Tesfaye (+251911000000)",
		"Items:",
		"  2 x Doro Wat @ ETB 150.00",
		"  5 x Injera @ ETB 10.00",
		"Subtotal: ETB 350.00",
		"Delivery: ETB 50.00",
		"Discount: -ETB 25.00",
		"Total: ETB 375.00",
	}
	lines := strings.Split(message, "\n")
	if len(lines) != len(expectedLines) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(expectedLines), len(lines), message)
	}
	for index, expected := range expectedLines {
		if lines[index] != expected {
			t.Fatalf("line %d = %q, expected %q", index, lines[index], expected)
		}
	}
}

func TestRenderOrderMessageOmitsEmptySections(t *testing.T) {
	order := orders.Order{ID: "ORD-1", Status: "pending", TotalCents: 1000}

	message := RenderOrderMessage(order)
	if strings.Contains(message, "Items:") {
		t.Fatalf("expected no items section for empty order:\n%s", message)
	}
	if strings.Contains(message, "Discount:") {
		t.Fatalf("expected no discount line for zero discount:\n%s", message)
	}
	if !strings.Contains(message, "Customer: n/a (n/a)") {
		t.Fatalf("expected fallback customer labels:\n%s", message)
	}
}

func TestRenderOrderMessageIsDeterministic(t *testing.T) {
	order := orders.Order{ID: "ORD-7", Status: "confirmed", TotalCents: 12345}
	if RenderOrderMessage(order) != RenderOrderMessage(order) {
		t.Fatalf("expected identical output for identical input")
	}
}
