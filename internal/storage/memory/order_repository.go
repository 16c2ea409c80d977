package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// orderRepository: in-memory реализация OrderRepository.
type orderRepository struct {
	view
}

// Create сохраняет новый заказ, если ID и ключ идемпотентности ещё не заняты.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	var err error
	r.write(func() {
		if _, exists := r.store.orders[order.ID]; exists {
			err = domain.ErrVersionConflict
			return
		}
		if _, exists := r.store.orderKeys[order.IdempotencyKey]; exists {
			err = domain.ErrIdempotencyConflict
			return
		}
		// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
		r.store.orders[order.ID] = cloneOrder(order)
		r.store.orderKeys[order.IdempotencyKey] = order.ID
		r.onRollback(func() {
			delete(r.store.orders, order.ID)
			delete(r.store.orderKeys, order.IdempotencyKey)
		})
	})
	return err
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.read(func() {
		order, ok = r.store.orders[id]
	})
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByIdempotencyKey ищет заказ по ключу идемпотентности.
func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	var (
		id string
		ok bool
	)
	r.read(func() {
		id, ok = r.store.orderKeys[key]
	})
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(_ context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	var result []domain.Order
	r.read(func() {
		result = make([]domain.Order, 0, len(r.store.orders))
		for _, order := range r.store.orders {
			if filter.UserID != "" && order.UserID != filter.UserID {
				continue
			}
			if filter.Status != "" && order.Status != filter.Status {
				continue
			}
			result = append(result, cloneOrder(order))
		}
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Save перезаписывает изменяемые поля заказа, проверяя версию (optimistic locking).
func (r *orderRepository) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	var (
		saved domain.Order
		err   error
	)
	r.write(func() {
		current, ok := r.store.orders[order.ID]
		if !ok {
			err = domain.ErrOrderNotFound
			return
		}
		if current.Version != order.Version {
			err = domain.ErrVersionConflict
			return
		}
		// Позиции и цены неизменяемы: переносим только статус и платёжную ссылку.
		saved = current
		saved.Status = order.Status
		saved.PaymentReference = order.PaymentReference
		saved.UpdatedAt = order.UpdatedAt
		saved.Version++
		r.store.orders[order.ID] = saved
		r.onRollback(func() {
			r.store.orders[order.ID] = current
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	return cloneOrder(saved), nil
}

// Stats считает заказы по статусам и выручку.
func (r *orderRepository) Stats(_ context.Context) (domain.OrderStats, error) {
	stats := domain.OrderStats{CountByStatus: make(map[domain.OrderStatus]int)}
	r.read(func() {
		for _, order := range r.store.orders {
			stats.CountByStatus[order.Status]++
			if order.Status.CountsAsRevenue() {
				stats.RevenueMinor += order.TotalMinor
			}
		}
	})
	return stats, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	for i := range order.Items {
		order.Items[i].Design = slices.Clone(order.Items[i].Design)
	}
	return order
}

var _ domain.OrderRepository = (*orderRepository)(nil)
