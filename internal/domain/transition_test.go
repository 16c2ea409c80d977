package domain_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

func TestTransitionGrid(t *testing.T) {
	legal := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
		domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusRefunded},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusRefunded},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, from := range domain.OrderStatuses() {
		for _, to := range domain.OrderStatuses() {
			order := makeOrder()
			order.Status = from
			err := order.Transition(to, now)

			if slices.Contains(legal[from], to) {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if order.Status != to {
					t.Fatalf("%s -> %s: status is %s", from, to, order.Status)
				}
				if !order.UpdatedAt.Equal(now) {
					t.Fatalf("%s -> %s: updated_at not bumped", from, to)
				}
				continue
			}

			if !errors.Is(err, domain.KindInvalidTransition) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if order.Status != from {
				t.Fatalf("%s -> %s: status changed to %s", from, to, order.Status)
			}
		}
	}
}

func TestTransitionErrorListsAllowedTargets(t *testing.T) {
	order := makeOrder()
	err := order.Transition(domain.OrderStatusShipped, time.Now())

	var invalid *domain.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if invalid.From != domain.OrderStatusPending || invalid.To != domain.OrderStatusShipped {
		t.Fatalf("unexpected transition in error: %+v", invalid)
	}
	want := []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusCancelled}
	if !slices.Equal(invalid.Allowed, want) {
		t.Fatalf("allowed = %v, want %v", invalid.Allowed, want)
	}
	if domain.KindOf(err) != domain.KindInvalidTransition {
		t.Fatalf("unexpected kind %q", domain.KindOf(err))
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range domain.OrderStatuses() {
		terminal := status == domain.OrderStatusDelivered ||
			status == domain.OrderStatusCancelled ||
			status == domain.OrderStatusRefunded
		if status.IsTerminal() != terminal {
			t.Fatalf("IsTerminal(%s) = %v", status, status.IsTerminal())
		}
	}
}

func TestAllowedTargetsReturnsCopy(t *testing.T) {
	targets := domain.OrderStatusPending.AllowedTargets()
	targets[0] = domain.OrderStatusDelivered

	if !domain.OrderStatusPending.CanTransitionTo(domain.OrderStatusPaid) {
		t.Fatal("transition table was mutated through AllowedTargets")
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := domain.ParseOrderStatus(" shipped ")
	if err != nil || status != domain.OrderStatusShipped {
		t.Fatalf("unexpected parse result %q, %v", status, err)
	}
	if _, err := domain.ParseOrderStatus("lost"); !errors.Is(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
