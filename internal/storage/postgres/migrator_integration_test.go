package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	state, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after reset: %v", err)
	}
	if state.Version != 0 || state.Applied != 0 || len(state.Pending) != 3 {
		t.Fatalf("unexpected state after reset: %+v", state)
	}

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up 1: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after up 1: %v", err)
	}
	if state.Version != 1 || state.Applied != 1 || len(state.Pending) != 2 {
		t.Fatalf("unexpected state after up 1: %+v", state)
	}

	for i := 0; i < 2; i++ {
		if err := store.MigrateUp(ctx, 0); err != nil {
			t.Fatalf("migrate up all (run %d): %v", i+1, err)
		}
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after up all: %v", err)
	}
	if state.Version != 3 || state.Applied != 3 || len(state.Pending) != 0 {
		t.Fatalf("unexpected state after up all: %+v", state)
	}

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	state, err = store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status after down 1: %v", err)
	}
	if state.Version != 2 || len(state.Pending) != 1 || state.Pending[0] != "0003_jobs" {
		t.Fatalf("unexpected state after down 1: %+v", state)
	}

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("restore migrations: %v", err)
	}
}
