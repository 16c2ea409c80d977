package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:             "order-1",
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		TotalMinor:     500,
		IdempotencyKey: "key-1",
		Items: []domain.OrderItem{
			{
				ID:             "item-1",
				VariantID:      "variant-1",
				Quantity:       5,
				UnitPriceMinor: 100,
				CreatedAt:      now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no user",
			mut: func(o *domain.Order) {
				o.UserID = ""
			},
		},
		{
			name: "no idempotency key",
			mut: func(o *domain.Order) {
				o.IdempotencyKey = ""
			},
		},
		{
			name: "negative total",
			mut: func(o *domain.Order) {
				o.TotalMinor = -1
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "quantity invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].UnitPriceMinor = -5
			},
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.TotalMinor = 999
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			err := order.Validate()
			if err == nil {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
			if !errors.Is(err, domain.KindValidation) {
				t.Fatalf("expected validation kind, got %v", err)
			}
		})
	}
}

func TestOrderItemHasDesign(t *testing.T) {
	cases := map[string]bool{
		"":                 false,
		"null":             false,
		" null\n":          false,
		"{}":               true,
		`{"layers":[1]}`:   true,
		`{"text":"hello"}`: true,
	}
	for raw, want := range cases {
		item := domain.OrderItem{Design: []byte(raw)}
		if got := item.HasDesign(); got != want {
			t.Fatalf("HasDesign(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestShortRef(t *testing.T) {
	if got := domain.ShortRef("3f2a9c1e-aaaa-bbbb-cccc-0123456789ab"); got != "456789AB" {
		t.Fatalf("unexpected short ref %q", got)
	}
	if got := domain.ShortRef("abc"); got != "ABC" {
		t.Fatalf("unexpected short ref %q", got)
	}
}

func TestAddressNormalizeDefaults(t *testing.T) {
	address := domain.Address{Line1: " 1 Main St ", City: "Pune", State: "MH", Zip: "411001"}
	address.Normalize()

	if address.Label != domain.DefaultAddressLabel || address.Country != domain.DefaultCountry {
		t.Fatalf("defaults not applied: %+v", address)
	}
	if address.Line1 != "1 Main St" {
		t.Fatalf("expected trimmed line1, got %q", address.Line1)
	}
	if err := address.Validate(); err != nil {
		t.Fatalf("expected valid address, got %v", err)
	}

	address.Zip = ""
	if err := address.Validate(); !errors.Is(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
