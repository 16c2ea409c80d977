// Package fulfillment: операции над заказами после оформления: смена статуса администратором,
// отмена пользователем и чтение заказов.
package fulfillment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
	"github.com/vladislavdragonenkov/printme/internal/service/orderstate"
	"github.com/vladislavdragonenkov/printme/internal/service/payment"
)

const (
	// DefaultPageSize: размер страницы, если limit не задан.
	DefaultPageSize = 20
	// MaxPageSize: верхняя граница limit.
	MaxPageSize = 100
)

// PaymentConfirmer переводит заказ в PAID вместе со списанием остатков и задачами.
type PaymentConfirmer interface {
	OnPaymentConfirmed(ctx context.Context, orderID, paymentReference string) (payment.Outcome, error)
}

// ListFilter: параметры постраничной выборки.
type ListFilter struct {
	Status domain.OrderStatus
	Page   int
	Limit  int
}

func (f ListFilter) repositoryFilter(userID string) domain.OrderListFilter {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return domain.OrderListFilter{
		UserID: userID,
		Status: f.Status,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service объединяет пользовательские и административные операции с заказами.
type Service struct {
	uow      domain.UnitOfWork
	changer  *orderstate.Changer
	payments PaymentConfirmer
	queue    domain.JobQueue
	metrics  *metrics.FulfillmentMetrics
	logger   *log.Entry
}

// NewService создаёт Service.
func NewService(
	uow domain.UnitOfWork,
	changer *orderstate.Changer,
	payments PaymentConfirmer,
	queue domain.JobQueue,
	opts ...Option,
) *Service {
	s := &Service{
		uow:      uow,
		changer:  changer,
		payments: payments,
		queue:    queue,
		logger:   log.WithField("component", "fulfillment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChangeStatus: смена статуса администратором. PAID проходит тот же путь, что и
// подтверждение от процессора, со ссылкой manual:<id>.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error) {
	if !target.Valid() {
		return domain.Order{}, domain.ValidationError("unknown order status %q", target)
	}
	logger := s.logger.WithFields(log.Fields{"order_id": orderID, "target": target})

	if target == domain.OrderStatusPaid {
		return s.markPaid(ctx, orderID, logger)
	}

	result, err := s.changer.Transition(ctx, orderID, target, "changed by admin")
	if err != nil {
		return domain.Order{}, err
	}

	if kind, ok := domain.NotificationForStatus(target); ok {
		if err := payment.EnqueueNotification(ctx, s.queue, kind, result.Order); err != nil {
			// Статус уже сохранён; потерянное уведомление не откатывает переход.
			logger.WithError(err).Error("notification enqueue failed")
		} else {
			s.metrics.RecordJobEnqueued(domain.JobSendNotification)
		}
	}
	return result.Order, nil
}

func (s *Service) markPaid(ctx context.Context, orderID string, logger *log.Entry) (domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	// Повторная отметка оплаченного заказа: ошибка перехода, как и в таблице.
	if !order.Status.CanTransitionTo(domain.OrderStatusPaid) {
		return domain.Order{}, &domain.InvalidTransitionError{
			From:    order.Status,
			To:      domain.OrderStatusPaid,
			Allowed: order.Status.AllowedTargets(),
		}
	}

	outcome, err := s.payments.OnPaymentConfirmed(ctx, orderID, payment.ManualReference(orderID))
	if err != nil && outcome == "" {
		return domain.Order{}, err
	}
	if err != nil {
		logger.WithError(err).Error("order marked paid with fulfillment enqueue errors")
	}
	return s.load(ctx, orderID)
}

// Cancel отменяет собственный заказ пользователя; допустим только PENDING -> CANCELLED.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (domain.Order, error) {
	if _, err := s.Get(ctx, userID, orderID); err != nil {
		return domain.Order{}, err
	}
	result, err := s.changer.Apply(ctx, orderID, "cancelled by customer", func(order *domain.Order, now time.Time) (bool, error) {
		if order.Status != domain.OrderStatusPending {
			return false, &domain.InvalidTransitionError{
				From:    order.Status,
				To:      domain.OrderStatusCancelled,
				Allowed: order.Status.AllowedTargets(),
			}
		}
		return true, order.Transition(domain.OrderStatusCancelled, now)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result.Order, nil
}

// Get возвращает заказ пользователя; чужой заказ неотличим от отсутствующего.
func (s *Service) Get(ctx context.Context, userID, orderID string) (domain.Order, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// List возвращает страницу заказов пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.list(ctx, filter.repositoryFilter(userID))
}

// AdminList возвращает страницу всех заказов.
func (s *Service) AdminList(ctx context.Context, filter ListFilter) ([]domain.Order, error) {
	return s.list(ctx, filter.repositoryFilter(""))
}

// Timeline возвращает ленту событий заказа пользователя.
func (s *Service) Timeline(ctx context.Context, userID, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.Get(ctx, userID, orderID); err != nil {
		return nil, err
	}
	var events []domain.TimelineEvent
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		events, err = repos.Timeline.List(ctx, orderID)
		return err
	})
	return events, err
}

// Stats возвращает число заказов по статусам и выручку.
func (s *Service) Stats(ctx context.Context) (domain.OrderStats, error) {
	var stats domain.OrderStats
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		stats, err = repos.Orders.Stats(ctx)
		return err
	})
	return stats, err
}

func (s *Service) list(ctx context.Context, filter domain.OrderListFilter) ([]domain.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ValidationError("unknown order status %q", filter.Status)
	}
	var orders []domain.Order
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		orders, err = repos.Orders.List(ctx, filter)
		return err
	})
	return orders, err
}

func (s *Service) load(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		var err error
		order, err = repos.Orders.Get(ctx, orderID)
		return err
	})
	return order, err
}
