package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer(nil, logger)
	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer([]string{"127.0.0.1:1", "127.0.0.1:2"}, logger)
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafka_NilProducer(_ *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestStartPaymentConsumer_Disabled(t *testing.T) {
	deps := newTestDependencies(t)

	consumer, err := startPaymentConsumer(context.Background(), deps)
	if err != nil {
		t.Fatalf("expected no error without brokers, got %v", err)
	}
	if consumer != nil {
		t.Error("expected nil consumer without brokers")
	}
}
