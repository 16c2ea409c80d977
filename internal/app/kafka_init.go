package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/messaging/kafka"
)

const (
	paymentConsumerRetries    = 3
	paymentConsumerRetryDelay = 200 * time.Millisecond
)

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startPaymentConsumer подписывает обработчик платежей на входящие события процессора.
// Без брокеров возвращает nil, nil.
func startPaymentConsumer(ctx context.Context, deps *Dependencies) (*kafka.Consumer, error) {
	cfg := deps.Config
	if !cfg.KafkaEnabled() {
		return nil, nil
	}
	logger := deps.Logger.WithField("component", "payment-consumer")

	opts := []kafka.ConsumerOption{
		kafka.WithRetries(paymentConsumerRetries, paymentConsumerRetryDelay),
		kafka.WithConsumerLogger(logger),
	}
	if deps.Producer != nil {
		opts = append(opts, kafka.WithDLQ(deps.Producer, kafka.TopicPaymentEventsDLQ))
	}

	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaPaymentTopic},
		kafka.PaymentEventsHandler(deps.Payments),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	logger.WithField("topic", cfg.KafkaPaymentTopic).Info("payment consumer started")
	return consumer, nil
}
