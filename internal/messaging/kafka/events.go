package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Topics.
const (
	TopicOrderEvents      = "printme.order.events"
	TopicPaymentEvents    = "printme.payment.events"
	TopicPaymentEventsDLQ = "printme.payment.events.dlq"
	TopicJobsDLQ          = "printme.jobs.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// PaymentEventMessage: входящее событие оплаты в printme.payment.events.
type PaymentEventMessage struct {
	OrderID          string    `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	Outcome          string    `json:"outcome"`
	OccurredAt       time.Time `json:"occurred_at,omitempty"`
}

// ToDomain проверяет сообщение и переводит его в доменное событие.
func (m PaymentEventMessage) ToDomain() (domain.PaymentEvent, error) {
	event := domain.PaymentEvent{
		OrderID:          m.OrderID,
		PaymentReference: m.PaymentReference,
		Outcome:          domain.PaymentOutcome(m.Outcome),
	}
	if err := event.Validate(); err != nil {
		return domain.PaymentEvent{}, err
	}
	return event, nil
}

// ParsePaymentEvent разбирает событие оплаты из сообщения Kafka.
func ParsePaymentEvent(message *sarama.ConsumerMessage) (domain.PaymentEvent, error) {
	var msg PaymentEventMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return domain.PaymentEvent{}, domain.WrapError(domain.KindValidation, err, "decode payment event")
	}
	return msg.ToDomain()
}

// OrderEventEnvelope: конверт события заказа из outbox.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ParseOrderEvent разбирает конверт и полезную нагрузку события заказа.
func ParseOrderEvent(message *sarama.ConsumerMessage) (OrderEventEnvelope, domain.OrderEvent, error) {
	var envelope OrderEventEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OrderEventEnvelope{}, domain.OrderEvent{}, fmt.Errorf("failed to unmarshal order envelope: %w", err)
	}
	var event domain.OrderEvent
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return envelope, domain.OrderEvent{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return envelope, event, nil
}

// JobDeadLetterAlert: оповещение о задаче, ушедшей в DLQ.
type JobDeadLetterAlert struct {
	JobID      string          `json:"job_id"`
	JobType    domain.JobType  `json:"job_type"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	Payload    json.RawMessage `json:"payload"`
	LastError  string          `json:"last_error"`
	FailedAt   time.Time       `json:"failed_at"`
}

// NewJobDeadLetterAlert собирает оповещение из записи DLQ.
func NewJobDeadLetterAlert(entry domain.DeadLetterEntry) JobDeadLetterAlert {
	return JobDeadLetterAlert{
		JobID:      entry.Job.ID,
		JobType:    entry.Job.Type,
		Retries:    entry.Job.Retries,
		MaxRetries: entry.Job.MaxRetries,
		Payload:    entry.Job.Payload,
		LastError:  entry.LastError,
		FailedAt:   entry.FailedAt,
	}
}
