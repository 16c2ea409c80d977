package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

func TestTimelineAndAddressRepositories(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedVariantForIntegrationTest(t, store, "var-1", 10)
	repos := store.Repositories()
	ctx := context.Background()

	address := domain.Address{
		ID: "addr-1", UserID: "user-1", Line1: "12 MG Road", City: "Bengaluru", State: "KA", Zip: "560001",
		CreatedAt: time.Now().UTC(),
	}
	address.Normalize()
	if err := repos.Addresses.Create(ctx, address); err != nil {
		t.Fatalf("create address: %v", err)
	}
	gotAddress, err := repos.Addresses.Get(ctx, "addr-1")
	if err != nil {
		t.Fatalf("get address: %v", err)
	}
	if gotAddress.Label != domain.DefaultAddressLabel || gotAddress.Country != domain.DefaultCountry {
		t.Fatalf("unexpected address defaults: %+v", gotAddress)
	}

	order := newOrderForIntegrationTest("ord-1", "key-1", "var-1")
	order.AddressID = "addr-1"
	if err := repos.Orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	now := time.Now().UTC()
	for _, ev := range []domain.TimelineEvent{
		{OrderID: "ord-1", Type: domain.TimelineOrderCreated, Occurred: now},
		{OrderID: "ord-1", Type: domain.TimelineStatusChanged, Reason: "PENDING -> PAID", Occurred: now},
	} {
		if err := repos.Timeline.Append(ctx, ev); err != nil {
			t.Fatalf("append timeline: %v", err)
		}
	}

	events, err := repos.Timeline.List(ctx, "ord-1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(events) != 2 || events[0].Type != domain.TimelineOrderCreated || events[1].Reason != "PENDING -> PAID" {
		t.Fatalf("unexpected timeline: %+v", events)
	}

	reloaded, err := repos.Orders.Get(ctx, "ord-1")
	if err != nil || reloaded.AddressID != "addr-1" {
		t.Fatalf("order must keep address reference: %+v (err=%v)", reloaded, err)
	}
}
