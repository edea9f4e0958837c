package delivery

import (
	"fmt"
	"strings"

	"github.com/merkatolabs/merkato/backend/internal/orders"
)

// RenderOrderMessage assembles the outbound notification text for an order.
// It is a pure function of the order data and is invoked once per dispatch,
// before the provider chain is walked.
func RenderOrderMessage(order orders.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New order %s\n", order.ID)
	fmt.Fprintf(&b, "Status: %s\n", orders.Status(order.Status).Label())
	fmt.Fprintf(&b, "Customer: %s (%s)\n", fallbackLabel(order.CustomerName), fallbackLabel(order.CustomerPhone))
	if len(order.Items) > 0 {
		b.WriteString("Items:\n")
		for _, item := range order.Items {
			fmt.Fprintf(&b, "  %d x %s @ %s\n", item.Quantity, item.Name, formatBirr(item.UnitPriceCents))
		}
	}
	fmt.Fprintf(&b, "Subtotal: %s\n", formatBirr(order.SubtotalCents))
	fmt.Fprintf(&b, "Delivery: %s\n", formatBirr(order.DeliveryFeeCents))
	if order.DiscountCents > 0 {
		fmt.Fprintf(&b, "Discount: -%s\n", formatBirr(order.DiscountCents))
	}
	fmt.Fprintf(&b, "Total: %s", formatBirr(order.TotalCents))
	return b.String()
}

func formatBirr(cents int64) string {
	return fmt.Sprintf("ETB %d.%02d", cents/100, cents%100)
}

func fallbackLabel(value string) string {
	if strings.TrimSpace(value) == "" {
		return "n/a"
	}
	return value
}
