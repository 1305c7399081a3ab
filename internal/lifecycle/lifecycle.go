// Package lifecycle is the order status state machine.
//
//	PendingPayment ──(backend)──► Paid ──(pickup)──► Completed
//	      │                        │
//	      └──────(backend)─────────┴──────────────► Cancelled
//
// Completed and Cancelled are terminal. The only transition the client itself
// authors is Paid → Completed, and only through pickup verification; every
// other edge is applied by the backend and merely mirrored from fetches.
package lifecycle

import (
	"fmt"

	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
)

// Actor identifies who triggers a transition.
type Actor int

const (
	ActorBackend Actor = iota // order/payment service
	ActorPickup               // pickup verification on the seller device
)

func (a Actor) String() string {
	switch a {
	case ActorBackend:
		return "backend"
	case ActorPickup:
		return "pickup"
	default:
		return "unknown"
	}
}

type edge struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// transitions maps each legal edge to the single actor allowed to take it.
var transitions = map[edge]Actor{
	{domain.OrderPendingPayment, domain.OrderPaid}:      ActorBackend,
	{domain.OrderPendingPayment, domain.OrderCancelled}: ActorBackend,
	{domain.OrderPaid, domain.OrderCancelled}:           ActorBackend,
	{domain.OrderPaid, domain.OrderCompleted}:           ActorPickup,
}

// Allowed reports whether actor may move an order from one status to another.
func Allowed(from, to domain.OrderStatus, actor Actor) bool {
	owner, ok := transitions[edge{from, to}]
	return ok && owner == actor
}

// Check returns an InvalidTransition error when the move is not allowed.
func Check(from, to domain.OrderStatus, actor Actor) error {
	if Allowed(from, to, actor) {
		return nil
	}
	return fault.Newf(fault.KindInvalidTransition,
		"order status transition not allowed: %s -> %s by %s", label(from), label(to), actor)
}

// CheckCompletable verifies that order may be completed by pickup.
func CheckCompletable(order domain.Order) error {
	if err := Check(order.Status, domain.OrderCompleted, ActorPickup); err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
	return nil
}

// Apply returns a copy of order moved to the target status.
func Apply(order domain.Order, to domain.OrderStatus, actor Actor) (domain.Order, error) {
	if err := Check(order.Status, to, actor); err != nil {
		return domain.Order{}, err
	}
	updated := order
	updated.Status = to
	return updated, nil
}

// Next lists the statuses actor may move an order to from status.
func Next(status domain.OrderStatus, actor Actor) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, to := range []domain.OrderStatus{
		domain.OrderPaid, domain.OrderCompleted, domain.OrderCancelled,
	} {
		if Allowed(status, to, actor) {
			out = append(out, to)
		}
	}
	return out
}

func label(s domain.OrderStatus) string {
	if s == "" {
		return "UNSPECIFIED"
	}
	return string(s)
}
