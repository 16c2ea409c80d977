package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

const integrationDSNEnv = "PRINTME_POSTGRES_TEST_DSN"

func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)

	return store
}

func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(integrationDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", integrationDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			dead_letter_jobs,
			jobs,
			outbox_messages,
			timeline_events,
			order_items,
			orders,
			addresses,
			variants,
			products
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}

func seedVariantForIntegrationTest(t *testing.T, store *Store, id string, stock int32) domain.Variant {
	t.Helper()

	v := domain.Variant{
		ID:            id,
		ProductID:     "prod-" + id,
		ProductName:   "Product " + id,
		ProductActive: true,
		Size:          "M",
		Color:         "black",
		PriceMinor:    49900,
		Stock:         stock,
	}
	if err := store.UpsertVariant(context.Background(), v); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return v
}

func newOrderForIntegrationTest(id, key, variantID string) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Order{
		ID:             id,
		UserID:         "user-1",
		Status:         domain.OrderStatusPending,
		TotalMinor:     2 * 49900,
		IdempotencyKey: key,
		Contact:        domain.Contact{Email: "buyer@example.com"},
		Items: []domain.OrderItem{{
			ID:             id + "-item-1",
			OrderID:        id,
			VariantID:      variantID,
			Quantity:       2,
			UnitPriceMinor: 49900,
			Design:         []byte(`{"front":"cat.png"}`),
			CreatedAt:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
