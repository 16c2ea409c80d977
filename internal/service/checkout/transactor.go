// Package checkout создаёт заказы атомарно: проверка ключа идемпотентности,
// расчёт цены по складскому реестру, проверка остатков и запись в одной единице работы.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
)

// Ограничения на входной запрос.
const (
	MaxItems             = 20
	MaxQuantity          = 99
	MaxIdempotencyKeyLen = 64
)

// ItemRequest: позиция заказа в запросе клиента. Цена клиентом не передаётся.
type ItemRequest struct {
	VariantID string
	Quantity  int32
	Design    json.RawMessage
}

// CreateOrderRequest: запрос на оформление заказа.
type CreateOrderRequest struct {
	UserID         string
	Contact        domain.Contact
	Items          []ItemRequest
	Address        domain.Address
	IdempotencyKey string
}

// Validate проверяет форму запроса до обращения к хранилищу.
func (r CreateOrderRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, domain.ErrUserRequired)
	}
	key := strings.TrimSpace(r.IdempotencyKey)
	switch {
	case key == "":
		errs = append(errs, domain.ErrIdempotencyKeyRequired)
	case utf8.RuneCountInString(key) > MaxIdempotencyKeyLen:
		errs = append(errs, domain.ValidationError("idempotency key must be at most %d characters", MaxIdempotencyKeyLen))
	}
	switch {
	case len(r.Items) == 0:
		errs = append(errs, domain.ErrItemsRequired)
	case len(r.Items) > MaxItems:
		errs = append(errs, domain.ValidationError("order must contain at most %d items", MaxItems))
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.VariantID) == "" {
			errs = append(errs, domain.ValidationError("items[%d]: variant id is required", i))
		}
		if item.Quantity < 1 || item.Quantity > MaxQuantity {
			errs = append(errs, domain.ValidationError("items[%d]: quantity must be between 1 and %d", i, MaxQuantity))
		}
	}
	address := r.Address
	address.Normalize()
	if err := address.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return &domain.Error{Kind: domain.KindValidation, Message: "invalid order request", Err: errors.Join(errs...)}
}

// Option настраивает Transactor.
type Option func(*Transactor)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(t *Transactor) { t.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(t *Transactor) { t.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(t *Transactor) { t.now = now }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(t *Transactor) { t.newID = newID }
}

// Transactor создаёт заказы.
type Transactor struct {
	uow     domain.UnitOfWork
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// NewTransactor создаёт Transactor поверх единицы работы.
func NewTransactor(uow domain.UnitOfWork, opts ...Option) *Transactor {
	t := &Transactor{
		uow:    uow,
		logger: log.WithField("component", "checkout"),
		tracer: otel.Tracer("printme/checkout"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create оформляет заказ. created=false означает повтор запроса с уже использованным
// ключом идемпотентности: возвращается исходный заказ без перепроверки и пересчёта.
func (t *Transactor) Create(ctx context.Context, req CreateOrderRequest) (order domain.Order, created bool, err error) {
	ctx, span := t.tracer.Start(ctx, "checkout.create_order", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("items", len(req.Items)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order_id", order.ID), attribute.Bool("created", created))
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return domain.Order{}, false, err
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	order, created, err = t.create(ctx, req)
	if errors.Is(err, domain.ErrIdempotencyConflict) {
		// Конкурентный запрос с тем же ключом успел первым: возвращаем его заказ.
		err = t.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
			var lookupErr error
			order, lookupErr = repos.Orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			return lookupErr
		})
		if err != nil {
			return domain.Order{}, false, fmt.Errorf("load winning order: %w", err)
		}
		created = false
	}
	if err != nil {
		return domain.Order{}, false, err
	}

	t.metrics.RecordOrderCreated(created)
	t.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"created":     created,
		"total_minor": order.TotalMinor,
	}).Info("checkout completed")
	return order, created, nil
}

func (t *Transactor) create(ctx context.Context, req CreateOrderRequest) (domain.Order, bool, error) {
	var (
		order   domain.Order
		created bool
	)
	err := t.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		existing, err := repos.Orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			order = existing
			return nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}

		now := t.now()
		orderID := t.newID()
		items := make([]domain.OrderItem, 0, len(req.Items))
		var total int64
		for _, item := range req.Items {
			variant, err := repos.Stock.CheckAvailable(ctx, item.VariantID, item.Quantity)
			if err != nil {
				return err
			}
			line := domain.OrderItem{
				ID:             t.newID(),
				OrderID:        orderID,
				VariantID:      variant.ID,
				Quantity:       item.Quantity,
				UnitPriceMinor: variant.PriceMinor,
				Design:         item.Design,
				CreatedAt:      now,
			}
			total += line.LineTotalMinor()
			items = append(items, line)
		}

		address := req.Address
		address.Normalize()
		address.ID = t.newID()
		address.UserID = req.UserID
		address.CreatedAt = now
		if err := repos.Addresses.Create(ctx, address); err != nil {
			return fmt.Errorf("create address: %w", err)
		}

		order = domain.Order{
			ID:             orderID,
			UserID:         req.UserID,
			Status:         domain.OrderStatusPending,
			TotalMinor:     total,
			IdempotencyKey: req.IdempotencyKey,
			AddressID:      address.ID,
			Contact:        req.Contact,
			Items:          items,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := order.Validate(); err != nil {
			return err
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}

		if err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderCreated,
			Occurred: now,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}
		msg, err := domain.NewOrderOutboxMessage(domain.EventOrderCreated, order, "", now)
		if err != nil {
			return fmt.Errorf("encode order created event: %w", err)
		}
		if _, err := repos.Outbox.Enqueue(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order created event: %w", err)
		}

		created = true
		return nil
	})
	return order, created, err
}
