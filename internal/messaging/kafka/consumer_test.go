package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error { return m.errorsCh }

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return TopicPaymentEvents }
func (m *mockClaim) Partition() int32                         { return 0 }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func claimOf(values ...string) *mockClaim {
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		claim.messages <- &sarama.ConsumerMessage{Topic: TopicPaymentEvents, Offset: int64(i), Key: []byte("k"), Value: []byte(v)}
	}
	close(claim.messages)
	return claim
}

type recordingPayments struct {
	mu     sync.Mutex
	events []domain.PaymentEvent
	err    error
}

func (r *recordingPayments) HandleEvent(_ context.Context, event domain.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var consumeCalls int
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
	}

	consumer := newConsumer(group, []string{TopicPaymentEvents}, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newConsumer(group, nil, nil, WithConsumerLogger(log.WithField("test", "stop")))
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaim_PaymentEventsReachHandler(t *testing.T) {
	payments := &recordingPayments{}
	consumer := newConsumer(&mockConsumerGroup{}, []string{TopicPaymentEvents}, PaymentEventsHandler(payments), WithRetries(1, 0))

	session := &mockSession{ctx: context.Background()}
	claim := claimOf(
		`{"order_id":"o1","payment_reference":"pi_1","outcome":"succeeded"}`,
		`{"order_id":"o2","outcome":"failed"}`,
	)
	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 2 {
		t.Fatalf("expected 2 marked messages, got %d", len(session.marked))
	}
	if len(payments.events) != 2 || payments.events[0].PaymentReference != "pi_1" || payments.events[1].Outcome != domain.PaymentFailed {
		t.Fatalf("unexpected events: %+v", payments.events)
	}
}

func TestConsumeClaim_UndecodableGoesToDLQ(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "not json" {
			return errors.New("dlq must carry the original value")
		}
		return nil
	})

	payments := &recordingPayments{}
	consumer := newConsumer(&mockConsumerGroup{}, nil, PaymentEventsHandler(payments),
		WithDLQ(NewProducerFromSync(mock, nil), TopicPaymentEventsDLQ),
		WithRetries(3, 0),
	)

	session := &mockSession{ctx: context.Background()}
	if err := consumer.ConsumeClaim(session, claimOf("not json")); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 1 {
		t.Fatalf("message sent to DLQ must be marked, got %d", len(session.marked))
	}
	if len(payments.events) != 0 {
		t.Fatalf("handler must not see undecodable events")
	}
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestHandleMessage_Retries(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: TopicPaymentEvents, Key: []byte("k"), Value: []byte(`{}`)}

	t.Run("transient error is retried", func(t *testing.T) {
		attempts := 0
		consumer := newConsumer(&mockConsumerGroup{}, nil, func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 3 {
				return errors.New("db timeout")
			}
			return nil
		}, WithRetries(3, 0))

		if err := consumer.handleMessage(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		attempts := 0
		consumer := newConsumer(&mockConsumerGroup{}, nil, func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return domain.ErrOrderNotFound
		}, WithRetries(3, 0))

		if err := consumer.handleMessage(context.Background(), msg); err == nil {
			t.Fatal("expected error without DLQ")
		}
		if attempts != 1 {
			t.Fatalf("expected 1 attempt, got %d", attempts)
		}
	})

	t.Run("dlq failure is reported", func(t *testing.T) {
		mock := mocks.NewSyncProducer(t, nil)
		mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		consumer := newConsumer(&mockConsumerGroup{}, nil, func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("still failing")
		}, WithRetries(2, 0), WithDLQ(NewProducerFromSync(mock, nil), ""))

		if err := consumer.handleMessage(context.Background(), msg); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mock.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestRetryCountHeader(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := retryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}
	invalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := retryCount(invalid); got != 0 {
		t.Fatalf("invalid retry count should fall back to 0, got %d", got)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := newConsumer(&mockConsumerGroup{}, nil, func(context.Context, *sarama.ConsumerMessage) error { return nil })
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
