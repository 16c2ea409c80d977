package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type addressRepository struct {
	q querier
}

func (r *addressRepository) Create(ctx context.Context, address domain.Address) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, label, line1, line2, city, state, zip, country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		address.ID, address.UserID, address.Label, address.Line1, address.Line2,
		address.City, address.State, address.Zip, address.Country, address.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

func (r *addressRepository) Get(ctx context.Context, id string) (domain.Address, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var a domain.Address
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, label, line1, line2, city, state, zip, country, created_at
		FROM addresses
		WHERE id = $1
	`, id).Scan(&a.ID, &a.UserID, &a.Label, &a.Line1, &a.Line2, &a.City, &a.State, &a.Zip, &a.Country, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	if err != nil {
		return domain.Address{}, fmt.Errorf("get address: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

var _ domain.AddressRepository = (*addressRepository)(nil)
