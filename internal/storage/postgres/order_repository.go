package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type orderRepository struct {
	q querier
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository вне транзакции.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{q: store.DB()}
}

const selectOrderColumns = `
	SELECT id, user_id, status, total_minor, idempotency_key, address_id, payment_reference,
	       contact_email, contact_phone, version, created_at, updated_at
	FROM orders
`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, status, total_minor, idempotency_key, address_id, payment_reference,
			contact_email, contact_phone, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		order.ID, order.UserID, string(order.Status), order.TotalMinor, order.IdempotencyKey,
		nullableString(order.AddressID), order.PaymentReference,
		order.Contact.Email, order.Contact.Phone, order.Version, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, variant_id, quantity, unit_price_minor, design, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			item.ID, order.ID, item.VariantID, item.Quantity, item.UnitPriceMinor, nullableJSON(item.Design), item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.getOne(ctx, selectOrderColumns+` WHERE id = $1`, id)
}

func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return r.getOne(ctx, selectOrderColumns+` WHERE idempotency_key = $1`, key)
}

func (r *orderRepository) getOne(ctx context.Context, query string, arg string) (domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := selectOrderColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	// Позиции догружаются после закрытия курсора: внутри транзакции нельзя держать два активных запроса.
	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var newVersion int64
	err := r.q.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_reference = $2,
		    updated_at = $3,
		    version = version + 1
		WHERE id = $4
		  AND version = $5
		RETURNING version
	`,
		string(order.Status), order.PaymentReference, order.UpdatedAt, order.ID, order.Version,
	).Scan(&newVersion)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := r.exists(ctx, order.ID)
		if existsErr != nil {
			return domain.Order{}, existsErr
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrVersionConflict
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	order.Version = newVersion
	return order, nil
}

func (r *orderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_minor), 0)
		FROM orders
		GROUP BY status
	`)
	if err != nil {
		return domain.OrderStats{}, fmt.Errorf("order stats: %w", err)
	}
	defer rows.Close()

	stats := domain.OrderStats{CountByStatus: make(map[domain.OrderStatus]int)}
	for rows.Next() {
		var (
			status string
			count  int
			sum    int64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return domain.OrderStats{}, fmt.Errorf("scan order stats: %w", err)
		}
		s := domain.OrderStatus(status)
		stats.CountByStatus[s] = count
		if s.CountsAsRevenue() {
			stats.RevenueMinor += sum
		}
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, fmt.Errorf("iterate order stats: %w", err)
	}
	return stats, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, variant_id, quantity, unit_price_minor, design, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item   domain.OrderItem
			design []byte
		)
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.VariantID, &item.Quantity, &item.UnitPriceMinor, &design, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if len(design) > 0 {
			item.Design = design
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		status    string
		addressID sql.NullString
	)
	if err := row.Scan(
		&order.ID, &order.UserID, &status, &order.TotalMinor, &order.IdempotencyKey, &addressID,
		&order.PaymentReference, &order.Contact.Email, &order.Contact.Phone, &order.Version,
		&order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.AddressID = addressID.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableJSON(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
