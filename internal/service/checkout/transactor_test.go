package checkout_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/service/checkout"
	"github.com/vladislavdragonenkov/printme/internal/storage/memory"
)

func variant(id string, price int64, stock int32) domain.Variant {
	return domain.Variant{
		ID:            id,
		ProductID:     "prod-" + id,
		ProductName:   "Product " + id,
		ProductActive: true,
		PriceMinor:    price,
		Stock:         stock,
	}
}

func address() domain.Address {
	return domain.Address{Line1: "12 MG Road", City: "Bengaluru", State: "KA", Zip: "560001"}
}

func request(key string, items ...checkout.ItemRequest) checkout.CreateOrderRequest {
	return checkout.CreateOrderRequest{
		UserID:         "user-1",
		Contact:        domain.Contact{Email: "buyer@example.com"},
		Items:          items,
		Address:        address(),
		IdempotencyKey: key,
	}
}

func TestCreate_PricesFromLedgerAndPersistsEverything(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithVariants(variant("tee", 59900, 10), variant("mug", 34900, 5)))
	tx := checkout.NewTransactor(store)

	order, created, err := tx.Create(ctx, request("key-1",
		checkout.ItemRequest{VariantID: "tee", Quantity: 2, Design: json.RawMessage(`{"front":"cat.png"}`)},
		checkout.ItemRequest{VariantID: "mug", Quantity: 1},
	))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Equal(t, int64(2*59900+34900), order.TotalMinor)
	require.NoError(t, order.Validate())
	require.NotEmpty(t, order.AddressID)

	addr, err := store.Addresses().Get(ctx, order.AddressID)
	require.NoError(t, err)
	require.Equal(t, "user-1", addr.UserID)
	require.Equal(t, domain.DefaultCountry, addr.Country)

	events, err := store.Timeline().List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending := store.Outbox().AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	tee, err := store.Stock().Get(ctx, "tee")
	require.NoError(t, err)
	require.Equal(t, int32(10), tee.Stock, "checkout must not decrement stock")
}

func TestCreate_IdempotentReplayReturnsOriginal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithVariants(variant("tee", 59900, 10)))
	tx := checkout.NewTransactor(store)

	first, created, err := tx.Create(ctx, request("key-1", checkout.ItemRequest{VariantID: "tee", Quantity: 1}))
	require.NoError(t, err)
	require.True(t, created)

	// Повтор с другим составом: ключ важнее содержимого.
	second, created, err := tx.Create(ctx, request("key-1", checkout.ItemRequest{VariantID: "tee", Quantity: 3}))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.TotalMinor, second.TotalMinor)
	require.Len(t, store.Outbox().AllPending(), 1)

	orders, err := store.Orders().List(ctx, domain.OrderListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestCreate_ConcurrentSameKeyCreatesOneOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithVariants(variant("tee", 59900, 100)))
	tx := checkout.NewTransactor(store)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := tx.Create(ctx, request("same-key", checkout.ItemRequest{VariantID: "tee", Quantity: 1}))
			assert.NoError(t, err)
			ids[i] = order.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	orders, err := store.Orders().List(ctx, domain.OrderListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestCreate_StockBoundary(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithVariants(variant("tee", 100, 3)))
	tx := checkout.NewTransactor(store)

	_, _, err := tx.Create(ctx, request("over", checkout.ItemRequest{VariantID: "tee", Quantity: 4}))
	require.ErrorIs(t, err, domain.KindInsufficientStock)
	var short *domain.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, int32(3), short.Available)

	orders, err := store.Orders().List(ctx, domain.OrderListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders, "failed checkout must not persist an order")
	require.Empty(t, store.Outbox().AllPending())

	order, created, err := tx.Create(ctx, request("exact", checkout.ItemRequest{VariantID: "tee", Quantity: 3}))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(300), order.TotalMinor)
}

func TestCreate_RejectsInactiveAndUnknownVariants(t *testing.T) {
	ctx := context.Background()
	inactive := variant("old", 100, 10)
	inactive.ProductActive = false
	store := memory.NewStore(memory.WithVariants(inactive, variant("tee", 100, 10)))
	tx := checkout.NewTransactor(store)

	_, _, err := tx.Create(ctx, request("k1",
		checkout.ItemRequest{VariantID: "tee", Quantity: 1},
		checkout.ItemRequest{VariantID: "old", Quantity: 1},
	))
	require.Equal(t, domain.KindProductUnavailable, domain.KindOf(err))

	_, _, err = tx.Create(ctx, request("k2", checkout.ItemRequest{VariantID: "ghost", Quantity: 1}))
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))

	orders, err := store.Orders().List(ctx, domain.OrderListFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestCreateOrderRequest_Validate(t *testing.T) {
	item := checkout.ItemRequest{VariantID: "tee", Quantity: 1}
	tooMany := make([]checkout.ItemRequest, checkout.MaxItems+1)
	for i := range tooMany {
		tooMany[i] = item
	}

	cases := []struct {
		name   string
		mutate func(r *checkout.CreateOrderRequest)
	}{
		{"no items", func(r *checkout.CreateOrderRequest) { r.Items = nil }},
		{"too many items", func(r *checkout.CreateOrderRequest) { r.Items = tooMany }},
		{"zero quantity", func(r *checkout.CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"quantity over limit", func(r *checkout.CreateOrderRequest) { r.Items[0].Quantity = checkout.MaxQuantity + 1 }},
		{"empty variant", func(r *checkout.CreateOrderRequest) { r.Items[0].VariantID = " " }},
		{"missing key", func(r *checkout.CreateOrderRequest) { r.IdempotencyKey = "" }},
		{"key too long", func(r *checkout.CreateOrderRequest) { r.IdempotencyKey = strings.Repeat("k", 65) }},
		{"missing user", func(r *checkout.CreateOrderRequest) { r.UserID = "" }},
		{"missing city", func(r *checkout.CreateOrderRequest) { r.Address.City = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := request("key", item)
			tc.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			require.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}

	require.NoError(t, request(strings.Repeat("k", 64), item).Validate())
}

// racingUoW имитирует конкурента, который успел создать заказ с тем же ключом
// между поиском по ключу и вставкой.
type racingUoW struct {
	*memory.Store
	raced bool
}

func (u *racingUoW) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	return u.Store.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if !u.raced {
			u.raced = true
			repos.Orders = &blindOrders{OrderRepository: repos.Orders}
		}
		return fn(ctx, repos)
	})
}

type blindOrders struct {
	domain.OrderRepository
}

func (blindOrders) GetByIdempotencyKey(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}

func TestCreate_LosingRaceReturnsWinner(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithVariants(variant("tee", 100, 10)))
	now := time.Now().UTC()
	winner := domain.Order{
		ID: "winner", UserID: "user-1", Status: domain.OrderStatusPending, TotalMinor: 100, IdempotencyKey: "key-race",
		Items:     []domain.OrderItem{{ID: "w-1", OrderID: "winner", VariantID: "tee", Quantity: 1, UnitPriceMinor: 100, CreatedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Orders().Create(ctx, winner))

	tx := checkout.NewTransactor(&racingUoW{Store: store})
	order, created, err := tx.Create(ctx, request("key-race", checkout.ItemRequest{VariantID: "tee", Quantity: 1}))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "winner", order.ID)

	_, err = store.Addresses().Get(ctx, order.AddressID)
	require.Error(t, err, "loser's address must be rolled back")
}
