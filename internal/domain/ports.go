package domain

import (
	"context"
	"time"
)

// StockLedger: складской реестр остатков по вариантам.
type StockLedger interface {
	// Get возвращает вариант или ErrVariantNotFound.
	Get(ctx context.Context, variantID string) (Variant, error)
	// CheckAvailable проверяет активность товара и остаток, ничего не меняя.
	CheckAvailable(ctx context.Context, variantID string, qty int32) (Variant, error)
	// Decrement атомарно списывает qty; остаток не может уйти в минус.
	Decrement(ctx context.Context, variantID string, qty int32) error
}

// OrderListFilter ограничивает выборку заказов.
type OrderListFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
	Offset int
}

// OrderRepository хранит заказы и их позиции.
type OrderRepository interface {
	// Create сохраняет новый заказ с позициями; занятый ключ идемпотентности даёт ErrIdempotencyConflict.
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// GetByIdempotencyKey возвращает ErrOrderNotFound, если ключ ещё не использован.
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]Order, error)
	// Save сохраняет статус и платёжную ссылку с проверкой версии (CAS).
	// При несовпадении версии возвращает ErrVersionConflict; при успехе версия увеличивается.
	Save(ctx context.Context, order Order) (Order, error)
	// Stats возвращает количество заказов по статусам и выручку по оплаченным.
	Stats(ctx context.Context) (OrderStats, error)
}

// OrderStats: агрегаты для админки.
type OrderStats struct {
	CountByStatus map[OrderStatus]int
	RevenueMinor  int64
}

// AddressRepository хранит адреса доставки.
type AddressRepository interface {
	Create(ctx context.Context, address Address) error
	Get(ctx context.Context, id string) (Address, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Repositories: набор репозиториев, привязанных к одной единице работы.
type Repositories struct {
	Orders    OrderRepository
	Addresses AddressRepository
	Stock     StockLedger
	Timeline  TimelineRepository
	Outbox    OutboxRepository
}

// UnitOfWork выполняет fn атомарно: либо все записи видны, либо ни одной.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
