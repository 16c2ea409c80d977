package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// orderTransitions: единственная таблица допустимых переходов статуса.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// OrderStatuses возвращает все статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", ValidationError("unknown order status %q", raw)
	}
	return status, nil
}

// Valid сообщает, входит ли статус в перечень.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// AllowedTargets возвращает допустимые целевые статусы.
func (s OrderStatus) AllowedTargets() []OrderStatus {
	return slices.Clone(orderTransitions[s])
}

// CanTransitionTo проверяет переход по таблице.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(orderTransitions[s], target)
}

// IsTerminal: из статуса нет ни одного перехода.
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// IsPaidOrBeyond: оплата по заказу уже зафиксирована.
func (s OrderStatus) IsPaidOrBeyond() bool {
	switch s {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// InvalidTransitionError описывает отклонённый переход.
type InvalidTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("invalid transition %s -> %s (allowed: [%s])", e.From, e.To, strings.Join(allowed, ", "))
}

// Is сопоставляет ошибку с KindInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == KindInvalidTransition
}

// Transition переводит заказ в целевой статус, если таблица это разрешает.
// При отказе заказ не меняется.
func (o *Order) Transition(target OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(target) {
		return &InvalidTransitionError{
			From:    o.Status,
			To:      target,
			Allowed: o.Status.AllowedTargets(),
		}
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// CountsAsRevenue: деньги по заказу получены и не возвращены.
func (s OrderStatus) CountsAsRevenue() bool {
	return s.IsPaidOrBeyond() && s != OrderStatusRefunded
}
