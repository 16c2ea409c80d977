package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

func testProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, nil)
	return NewProducerFromSync(mock, log.WithField("component", "kafka-producer-test")), mock
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mock := testProducer(t)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var alert JobDeadLetterAlert
		if err := json.Unmarshal(val, &alert); err != nil {
			return err
		}
		if alert.JobID != "job-1" {
			return fmt.Errorf("unexpected job id %q", alert.JobID)
		}
		return nil
	})

	err := producer.PublishEvent(TopicJobsDLQ, "job-1", JobDeadLetterAlert{JobID: "job-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	producer, mock := testProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicOrderEvents, "order-1", map[string]string{"a": "b"}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	producer, mock := testProducer(t)

	if err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestJobDeadLetterAlerts_OnDeadLetter(t *testing.T) {
	producer, mock := testProducer(t)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var alert JobDeadLetterAlert
		if err := json.Unmarshal(val, &alert); err != nil {
			return err
		}
		if alert.JobType != domain.JobRenderPrint || alert.Retries != 3 || alert.LastError != "renderer down" {
			return fmt.Errorf("unexpected alert %+v", alert)
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	alerts := NewJobDeadLetterAlerts(producer, "")
	entry := domain.DeadLetterEntry{
		Job:       domain.Job{ID: "job-9", Type: domain.JobRenderPrint, Retries: 3, MaxRetries: 3},
		LastError: "renderer down",
		FailedAt:  time.Now().UTC(),
	}
	alerts.OnDeadLetter(t.Context(), entry)
	// Ошибка брокера только логируется.
	alerts.OnDeadLetter(t.Context(), entry)

	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPaymentEventMessage_ToDomain(t *testing.T) {
	tests := []struct {
		name    string
		msg     PaymentEventMessage
		wantErr bool
	}{
		{name: "succeeded", msg: PaymentEventMessage{OrderID: "o1", PaymentReference: "pi_1", Outcome: "succeeded"}},
		{name: "failed", msg: PaymentEventMessage{OrderID: "o1", Outcome: "failed"}},
		{name: "missing order", msg: PaymentEventMessage{Outcome: "succeeded"}, wantErr: true},
		{name: "unknown outcome", msg: PaymentEventMessage{OrderID: "o1", Outcome: "pending"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.msg.ToDomain()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}
