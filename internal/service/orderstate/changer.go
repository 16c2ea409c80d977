// Package orderstate сохраняет переходы статуса заказа: CAS по версии, запись в timeline
// и outbox в одной единице работы, повтор с backoff при конфликте версий.
package orderstate

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
)

// MutateFunc применяет изменение к свежей копии заказа.
// Возврат changed=false означает, что сохранять нечего (например, повторная доставка события).
type MutateFunc func(order *domain.Order, now time.Time) (changed bool, err error)

// Result: итог применения изменения.
type Result struct {
	Order    domain.Order
	Previous domain.OrderStatus
	Changed  bool
}

// StatusChanged сообщает, что сохранён именно переход статуса.
func (r Result) StatusChanged() bool {
	return r.Changed && r.Order.Status != r.Previous
}

// Option настраивает Changer.
type Option func(*Changer)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Changer) { c.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(c *Changer) { c.metrics = m }
}

// WithRetryConfig задаёт повторы при конфликте версий.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Changer) { c.retry = cfg.normalized() }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Changer) { c.now = now }
}

// Changer применяет переходы статуса поверх UnitOfWork.
type Changer struct {
	uow     domain.UnitOfWork
	retry   RetryConfig
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewChanger создаёт Changer.
func NewChanger(uow domain.UnitOfWork, opts ...Option) *Changer {
	c := &Changer{
		uow:    uow,
		retry:  DefaultRetryConfig(),
		logger: log.WithField("component", "order-state"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transition переводит заказ в target. Если текущий статус уже не допускает перехода,
// возвращается *domain.InvalidTransitionError.
func (c *Changer) Transition(ctx context.Context, orderID string, target domain.OrderStatus, reason string) (Result, error) {
	return c.Apply(ctx, orderID, reason, func(order *domain.Order, now time.Time) (bool, error) {
		if err := order.Transition(target, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Apply загружает заказ, вызывает mutate и сохраняет результат с проверкой версии.
// При конфликте версий заказ перечитывается и mutate вызывается заново.
func (c *Changer) Apply(ctx context.Context, orderID, reason string, mutate MutateFunc) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		result, err := c.applyOnce(ctx, orderID, reason, mutate)
		if err == nil {
			if result.StatusChanged() {
				c.metrics.RecordTransition(result.Previous, result.Order.Status)
			}
			return result, nil
		}
		if !domain.IsVersionConflict(err) {
			return Result{}, err
		}

		lastErr = err
		c.metrics.RecordVersionConflict()
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
		}).Warn("version conflict detected, retrying")

		if attempt < c.retry.MaxAttempts {
			if err := sleepContext(ctx, c.retry.delay(attempt)); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{}, fmt.Errorf("order %s: %d attempts: %w", orderID, c.retry.MaxAttempts, lastErr)
}

func (c *Changer) applyOnce(ctx context.Context, orderID, reason string, mutate MutateFunc) (Result, error) {
	var result Result
	err := c.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		order, err := repos.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		result.Previous = order.Status

		now := c.now()
		changed, err := mutate(&order, now)
		if err != nil {
			return err
		}
		if !changed {
			result.Order = order
			return nil
		}

		saved, err := repos.Orders.Save(ctx, order)
		if err != nil {
			return err
		}
		result.Order = saved
		result.Changed = true
		if saved.Status == result.Previous {
			// Изменились только атрибуты (например, платёжная ссылка): событий статуса нет.
			return nil
		}

		text := fmt.Sprintf("%s -> %s", result.Previous, saved.Status)
		if reason != "" {
			text += ": " + reason
		}
		if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  saved.ID,
			Type:     domain.TimelineStatusChanged,
			Reason:   text,
			Occurred: now,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}

		msg, err := domain.NewOrderOutboxMessage(domain.EventOrderStatusChanged, saved, result.Previous, now)
		if err != nil {
			return fmt.Errorf("encode status event: %w", err)
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue status event: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if result.StatusChanged() {
		c.logger.WithFields(log.Fields{
			"order_id": result.Order.ID,
			"from":     result.Previous,
			"to":       result.Order.Status,
		}).Info("order status changed")
	}
	return result, nil
}
