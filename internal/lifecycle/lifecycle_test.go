package lifecycle

import (
	"errors"
	"testing"

	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
)

func TestAllowedTransitions(t *testing.T) {
	tests := []struct {
		from  domain.OrderStatus
		to    domain.OrderStatus
		actor Actor
		want  bool
	}{
		{domain.OrderPendingPayment, domain.OrderPaid, ActorBackend, true},
		{domain.OrderPendingPayment, domain.OrderCancelled, ActorBackend, true},
		{domain.OrderPaid, domain.OrderCancelled, ActorBackend, true},
		{domain.OrderPaid, domain.OrderCompleted, ActorPickup, true},

		{domain.OrderPaid, domain.OrderCompleted, ActorBackend, false},
		{domain.OrderPendingPayment, domain.OrderCompleted, ActorPickup, false},
		{domain.OrderCompleted, domain.OrderCompleted, ActorPickup, false},
		{domain.OrderCancelled, domain.OrderCompleted, ActorPickup, false},
		{domain.OrderCompleted, domain.OrderCancelled, ActorBackend, false},
		{domain.OrderPaid, domain.OrderPendingPayment, ActorBackend, false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.from, tt.to, tt.actor); got != tt.want {
			t.Errorf("Allowed(%s, %s, %s) = %v, want %v", tt.from, tt.to, tt.actor, got, tt.want)
		}
	}
}

func TestCheckCompletableRejectsNonPaid(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderPendingPayment, domain.OrderCompleted, domain.OrderCancelled,
	} {
		err := CheckCompletable(domain.Order{ID: "abc123", Status: status})
		if !errors.Is(err, fault.ErrInvalidTransition) {
			t.Fatalf("status %s: expected InvalidTransition, got %v", status, err)
		}
	}
	if err := CheckCompletable(domain.Order{ID: "abc123", Status: domain.OrderPaid}); err != nil {
		t.Fatalf("paid order should be completable: %v", err)
	}
}

func TestApplyReturnsCopy(t *testing.T) {
	order := domain.Order{ID: "abc123", Status: domain.OrderPaid}
	updated, err := Apply(order, domain.OrderCompleted, ActorPickup)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if updated.Status != domain.OrderCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
	if order.Status != domain.OrderPaid {
		t.Fatal("Apply must not modify its input")
	}
}

func TestTerminalStatesHaveNoNext(t *testing.T) {
	for _, actor := range []Actor{ActorBackend, ActorPickup} {
		if n := Next(domain.OrderCompleted, actor); len(n) != 0 {
			t.Fatalf("completed should be terminal, got %v", n)
		}
		if n := Next(domain.OrderCancelled, actor); len(n) != 0 {
			t.Fatalf("cancelled should be terminal, got %v", n)
		}
	}
	if n := Next(domain.OrderPaid, ActorPickup); len(n) != 1 || n[0] != domain.OrderCompleted {
		t.Fatalf("unexpected pickup edges from paid: %v", n)
	}
}
