package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/storage/memory"
	"github.com/vladislavdragonenkov/printme/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "POSTGRES_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
}

// migrator: операции над схемой и каталогом, которые выполняет утилита.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	UpsertVariant(ctx context.Context, v domain.Variant) error
	Close() error
}

var openStore = func(ctx context.Context, dsn string) (migrator, error) {
	return postgres.Open(ctx, dsn)
}

func main() {
	var opts options
	flag.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status|seed")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnEnv+")")
	flag.Parse()

	if strings.TrimSpace(opts.dsn) == "" {
		opts.dsn = strings.TrimSpace(os.Getenv(dsnEnv))
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Stdout, opts); err != nil {
		fail("%v", err)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if strings.TrimSpace(opts.dsn) == "" {
		return fmt.Errorf("%s (or -dsn) is required", dsnEnv)
	}
	direction := strings.ToLower(strings.TrimSpace(opts.direction))
	switch direction {
	case "up", "down", "status", "seed":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status|seed)", opts.direction)
	}

	store, err := openStore(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "seed":
		catalogue := memory.DemoCatalogue()
		for _, variant := range catalogue {
			if err := store.UpsertVariant(ctx, variant); err != nil {
				return fmt.Errorf("seed variant %s: %w", variant.ID, err)
			}
		}
		_, _ = fmt.Fprintf(out, "seeded %d variants\n", len(catalogue))
		return nil
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n", direction, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		_, _ = fmt.Fprintf(out, "  pending: %s\n", name)
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
