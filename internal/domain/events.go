package domain

import (
	"encoding/json"
	"time"
)

// AggregateOrder: тип агрегата в outbox.
const AggregateOrder = "order"

// Типы событий заказа, публикуемых через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent: полезная нагрузка событий заказа.
type OrderEvent struct {
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	TotalMinor     int64       `json:"total_minor"`
	Occurred       time.Time   `json:"occurred_at"`
}

// NewOrderOutboxMessage упаковывает событие заказа в сообщение outbox.
func NewOrderOutboxMessage(eventType string, order Order, previous OrderStatus, now time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEvent{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalMinor:     order.TotalMinor,
		Occurred:       now,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}, nil
}

// PaymentOutcome: исход платежа по данным процессора.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

// PaymentEvent: входящее событие платёжного процессора.
type PaymentEvent struct {
	OrderID          string         `json:"orderId"`
	PaymentReference string         `json:"paymentReference"`
	Outcome          PaymentOutcome `json:"outcome"`
}

// Validate проверяет обязательные поля события.
func (e PaymentEvent) Validate() error {
	if e.OrderID == "" {
		return ValidationError("payment event: orderId is required")
	}
	switch e.Outcome {
	case PaymentSucceeded, PaymentFailed:
		return nil
	default:
		return ValidationError("payment event: unknown outcome %q", e.Outcome)
	}
}
