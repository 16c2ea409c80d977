package domain

import "time"

// Типы событий ленты заказа.
const (
	TimelineOrderCreated  = "order.created"
	TimelineStatusChanged = "order.status_changed"
	TimelinePaymentFailed = "payment.failed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
