package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в topic, ключ: id заказа.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish реализует domain.OutboxPublisher.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	envelope := OrderEventEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       msg.Payload,
		PublishedAt:   p.producer.now().UTC(),
	}
	return p.producer.PublishEvent(p.topic, key, envelope, header(HeaderEventType, msg.EventType))
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
