// Package payment обрабатывает события платёжного процессора: перевод заказа в PAID,
// списание остатков и постановку задач печати и уведомлений.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
	"github.com/vladislavdragonenkov/printme/internal/service/orderstate"
)

// Outcome: итог обработки подтверждения оплаты.
type Outcome string

const (
	// OutcomeProcessed: заказ переведён в PAID, побочные эффекты запущены.
	OutcomeProcessed Outcome = "processed"
	// OutcomeIgnored: заказ уже оплачен; повторная доставка события.
	OutcomeIgnored Outcome = "ignored"
)

// ManualReference возвращает платёжную ссылку для подтверждения оплаты вручную.
func ManualReference(orderID string) string {
	return "manual:" + orderID
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithIntentProvider задаёт платёжный процессор для CreateIntent.
func WithIntentProvider(provider IntentProvider) Option {
	return func(h *Handler) { h.provider = provider }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler: обработчик подтверждений оплаты.
type Handler struct {
	uow      domain.UnitOfWork
	changer  *orderstate.Changer
	stock    domain.StockLedger
	queue    domain.JobQueue
	provider IntentProvider
	metrics  *metrics.FulfillmentMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewHandler создаёт Handler. stock: складской реестр вне транзакции: списания
// выполняются независимо друг от друга после фиксации статуса.
func NewHandler(
	uow domain.UnitOfWork,
	changer *orderstate.Changer,
	stock domain.StockLedger,
	queue domain.JobQueue,
	opts ...Option,
) *Handler {
	h := &Handler{
		uow:      uow,
		changer:  changer,
		stock:    stock,
		queue:    queue,
		provider: NewMockProvider(),
		logger:   log.WithField("component", "payment-handler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvent направляет событие процессора по исходу.
func (h *Handler) HandleEvent(ctx context.Context, event domain.PaymentEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	switch event.Outcome {
	case domain.PaymentSucceeded:
		_, err := h.OnPaymentConfirmed(ctx, event.OrderID, event.PaymentReference)
		return err
	default:
		return h.OnPaymentFailed(ctx, event.OrderID)
	}
}

// OnPaymentConfirmed переводит заказ в PAID и запускает исполнение. Повторная доставка
// для заказа в PAID или дальше даёт OutcomeIgnored без побочных эффектов.
// Ошибки постановки задач объединяются и возвращаются; заказ при этом остаётся PAID.
func (h *Handler) OnPaymentConfirmed(ctx context.Context, orderID, paymentReference string) (Outcome, error) {
	logger := h.logger.WithField("order_id", orderID)

	result, err := h.changer.Apply(ctx, orderID, "payment confirmed", func(order *domain.Order, now time.Time) (bool, error) {
		if order.Status.IsPaidOrBeyond() {
			return false, nil
		}
		if err := order.Transition(domain.OrderStatusPaid, now); err != nil {
			return false, err
		}
		if paymentReference != "" {
			order.PaymentReference = paymentReference
		}
		return true, nil
	})
	if err != nil {
		h.metrics.RecordPaymentEvent(domain.PaymentSucceeded, "error")
		logger.WithError(err).Error("payment confirmation failed")
		return "", err
	}
	if !result.Changed {
		h.metrics.RecordPaymentEvent(domain.PaymentSucceeded, string(OutcomeIgnored))
		logger.WithField("status", result.Order.Status).Info("payment confirmation ignored: order already paid")
		return OutcomeIgnored, nil
	}

	// PAID уже зафиксирован, а повторная доставка будет проигнорирована: списания и задачи
	// доводятся до конца даже после отмены ctx вызывающей стороной.
	sideCtx := context.WithoutCancel(ctx)
	order := result.Order
	h.decrementStock(sideCtx, order, logger)
	err = h.enqueueFulfillment(sideCtx, order)

	h.metrics.RecordPaymentEvent(domain.PaymentSucceeded, string(OutcomeProcessed))
	logger.WithFields(log.Fields{
		"payment_reference": order.PaymentReference,
		"items":             len(order.Items),
	}).Info("payment confirmed")
	return OutcomeProcessed, err
}

// decrementStock списывает остатки по позициям. Оплата уже получена, поэтому сбой
// списания не откатывает PAID: он логируется и учитывается в метриках.
func (h *Handler) decrementStock(ctx context.Context, order domain.Order, logger *log.Entry) {
	for _, item := range order.Items {
		if err := h.stock.Decrement(ctx, item.VariantID, item.Quantity); err != nil {
			h.metrics.RecordStockDecrementFailure()
			logger.WithError(err).WithFields(log.Fields{
				"variant_id": item.VariantID,
				"quantity":   item.Quantity,
			}).Error("stock decrement failed after payment")
		}
	}
}

func (h *Handler) enqueueFulfillment(ctx context.Context, order domain.Order) error {
	var errs []error
	for _, item := range order.Items {
		if !item.HasDesign() {
			continue
		}
		payload := domain.RenderPrintPayload{OrderID: order.ID, OrderItemID: item.ID, Design: item.Design}
		if _, err := h.queue.Enqueue(ctx, domain.JobRenderPrint, payload); err != nil {
			errs = append(errs, fmt.Errorf("enqueue render for item %s: %w", item.ID, err))
			continue
		}
		h.metrics.RecordJobEnqueued(domain.JobRenderPrint)
	}

	if err := EnqueueNotification(ctx, h.queue, domain.NotificationOrderConfirmed, order); err != nil {
		errs = append(errs, err)
	} else {
		h.metrics.RecordJobEnqueued(domain.JobSendNotification)
	}
	return errors.Join(errs...)
}

// EnqueueNotification ставит задачу уведомления клиента о заказе.
func EnqueueNotification(ctx context.Context, queue domain.JobQueue, kind domain.NotificationKind, order domain.Order) error {
	payload := domain.NotificationPayload{Kind: kind, OrderID: order.ID, Recipient: order.Contact}
	if _, err := queue.Enqueue(ctx, domain.JobSendNotification, payload); err != nil {
		return fmt.Errorf("enqueue %s notification: %w", kind, err)
	}
	return nil
}

// OnPaymentFailed не меняет статус: заказ остаётся PENDING и может быть оплачен повторно.
// В timeline фиксируется неудачная попытка.
func (h *Handler) OnPaymentFailed(ctx context.Context, orderID string) error {
	err := h.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		if _, err := repos.Orders.Get(ctx, orderID); err != nil {
			return err
		}
		return repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     domain.TimelinePaymentFailed,
			Reason:   "payment failed at processor",
			Occurred: h.now(),
		})
	})
	if err != nil {
		h.metrics.RecordPaymentEvent(domain.PaymentFailed, "error")
		return err
	}

	h.metrics.RecordPaymentEvent(domain.PaymentFailed, "recorded")
	h.logger.WithField("order_id", orderID).Warn("payment failed, order stays pending")
	return nil
}

// CreateIntent создаёт платёжное намерение для собственного заказа пользователя в PENDING.
// Если ссылка уже сохранена, она возвращается без обращения к процессору.
func (h *Handler) CreateIntent(ctx context.Context, userID, orderID string) (Intent, error) {
	var order domain.Order
	err := h.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.Get(ctx, orderID)
		return err
	})
	if err != nil {
		return Intent{}, err
	}
	if order.UserID != userID {
		return Intent{}, domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return Intent{}, domain.ValidationError("order is %s, not %s", order.Status, domain.OrderStatusPending)
	}
	if order.PaymentReference != "" {
		return Intent{ID: order.PaymentReference}, nil
	}

	intent, err := h.provider.CreateIntent(ctx, IntentRequest{
		OrderID:     order.ID,
		UserID:      userID,
		AmountMinor: order.TotalMinor,
		Currency:    DefaultCurrency,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}

	result, err := h.changer.Apply(ctx, orderID, "", func(order *domain.Order, _ time.Time) (bool, error) {
		if order.PaymentReference != "" {
			return false, nil
		}
		order.PaymentReference = intent.ID
		return true, nil
	})
	if err != nil {
		return Intent{}, err
	}
	if !result.Changed {
		// Конкурентный запрос успел сохранить своё намерение.
		return Intent{ID: result.Order.PaymentReference}, nil
	}

	h.logger.WithFields(log.Fields{"order_id": orderID, "payment_reference": intent.ID}).Info("payment intent created")
	return intent, nil
}
