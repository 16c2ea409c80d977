package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type stockLedger struct {
	q querier
}

const selectVariantSQL = `
	SELECT v.id, v.product_id, p.name, p.active, v.size, v.color, v.price_minor, v.stock
	FROM variants v
	JOIN products p ON p.id = v.product_id
	WHERE v.id = $1
`

func (l *stockLedger) Get(ctx context.Context, variantID string) (domain.Variant, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var v domain.Variant
	err := l.q.QueryRowContext(ctx, selectVariantSQL, variantID).Scan(
		&v.ID, &v.ProductID, &v.ProductName, &v.ProductActive, &v.Size, &v.Color, &v.PriceMinor, &v.Stock,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	if err != nil {
		return domain.Variant{}, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

func (l *stockLedger) CheckAvailable(ctx context.Context, variantID string, qty int32) (domain.Variant, error) {
	v, err := l.Get(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}
	if err := v.CheckAvailability(qty); err != nil {
		return v, err
	}
	return v, nil
}

// Decrement списывает остаток одним условным UPDATE, поэтому конкурентные списания
// не уводят stock ниже нуля.
func (l *stockLedger) Decrement(ctx context.Context, variantID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}

	execCtx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := l.q.ExecContext(execCtx, `
		UPDATE variants
		SET stock = stock - $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND stock >= $1
	`, qty, variantID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for stock: %w", err)
	}
	if affected == 1 {
		return nil
	}

	v, err := l.Get(ctx, variantID)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{VariantID: variantID, Requested: qty, Available: v.Stock}
}

// UpsertVariant заводит товар и вариант либо обновляет их; используется сидированием каталога.
func (s *Store) UpsertVariant(ctx context.Context, v domain.Variant) (err error) {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`, v.ProductID, v.ProductName, v.ProductActive); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO variants (id, product_id, size, color, price_minor, stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    size = EXCLUDED.size,
		    color = EXCLUDED.color,
		    price_minor = EXCLUDED.price_minor,
		    stock = EXCLUDED.stock,
		    updated_at = NOW()
	`, v.ID, v.ProductID, v.Size, v.Color, v.PriceMinor, v.Stock); err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert variant: %w", err)
	}
	return nil
}

var _ domain.StockLedger = (*stockLedger)(nil)
