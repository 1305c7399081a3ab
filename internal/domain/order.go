package domain

import (
	"strings"
	"time"
	"unicode"
)

// OrderStatus is the lifecycle state of an order. Values are authored by the
// backend; the client never invents or reorders them.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCompleted      OrderStatus = "completed"
	OrderCancelled      OrderStatus = "cancelled"
)

// IsValid reports whether s is a status the backend may send.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPendingPayment, OrderPaid, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// PaymentStatus mirrors the payment provider's state for an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PickupWindow is the time range during which an order may be collected.
type PickupWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the window (inclusive).
func (w PickupWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Customer is the buyer collecting the order.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Product is the listing the order was placed against.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

// Payment carries the payment state attached to an order.
type Payment struct {
	Status PaymentStatus `json:"status"`
}

// Order is a checkout created by the backend. TotalPriceMinorUnits is always
// expressed in minor currency units (cents); the engine never rescales it.
type Order struct {
	ID                   string       `json:"id"`
	OrderNumber          string       `json:"order_number"`
	Quantity             int          `json:"quantity"`
	TotalPriceMinorUnits int64        `json:"total_price_minor"`
	Status               OrderStatus  `json:"status"`
	PickupWindow         PickupWindow `json:"pickup_window"`
	Customer             Customer     `json:"customer"`
	Product              Product      `json:"product"`
	Payment              Payment      `json:"payment"`
	CreatedAt            time.Time    `json:"created_at,omitempty"`
}

// NormalizeOrderNumber strips leading non-alphanumeric markers such as "#"
// from a human-facing order number.
func NormalizeOrderNumber(number string) string {
	return strings.TrimLeftFunc(strings.TrimSpace(number), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizedNumber returns the order number without its display marker.
func (o Order) NormalizedNumber() string {
	return NormalizeOrderNumber(o.OrderNumber)
}

// CloneOrders copies an order slice so cached values are never shared.
func CloneOrders(in []Order) []Order {
	if in == nil {
		return nil
	}
	out := make([]Order, len(in))
	copy(out, in)
	return out
}

// FindOrder returns the order with the given id.
func FindOrder(orders []Order, id string) (Order, bool) {
	for _, o := range orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

// ReplaceOrder returns a copy of orders with the entry matching updated.ID
// replaced. The input slice is not modified.
func ReplaceOrder(orders []Order, updated Order) []Order {
	out := CloneOrders(orders)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
		}
	}
	return out
}
