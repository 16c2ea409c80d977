// Package sqsqueue: распределённая очередь задач поверх AWS SQS.
// Видимость задачи держит сам SQS (visibility timeout), поэтому диспетчеров может быть сколько угодно.
package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	awsclient "github.com/vladislavdragonenkov/printme/internal/platform/aws"
)

const (
	// DefaultWaitTimeSeconds: длительность long poll.
	DefaultWaitTimeSeconds = 20
	// DefaultVisibilityTimeoutSeconds: на сколько задача скрывается от других потребителей.
	DefaultVisibilityTimeoutSeconds = 60

	jobTypeAttribute = "job_type"
)

// Config задаёт параметры очереди.
type Config struct {
	QueueURL                 string
	WaitTimeSeconds          int32
	VisibilityTimeoutSeconds int32
}

// Option настраивает Queue.
type Option func(*Queue)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithDeadLetterObserver подключает наблюдателя за DLQ.
func WithDeadLetterObserver(observer domain.DeadLetterObserver) Option {
	return func(q *Queue) { q.observer = observer }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue реализует domain.JobQueue поверх SQS.
type Queue struct {
	client      awsclient.SQSAPI
	deadLetters domain.DeadLetterStore
	cfg         Config
	fifo        bool
	observer    domain.DeadLetterObserver
	logger      *log.Entry
	now         func() time.Time
}

// New создаёт очередь. Записи DLQ хранятся в deadLetters, а не в SQS redrive-очереди,
// чтобы сохранять текст последней ошибки.
func New(client awsclient.SQSAPI, deadLetters domain.DeadLetterStore, cfg Config, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if deadLetters == nil {
		return nil, errors.New("dead-letter store is required")
	}
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, errors.New("sqs queue url is required")
	}
	if cfg.WaitTimeSeconds <= 0 {
		cfg.WaitTimeSeconds = DefaultWaitTimeSeconds
	}
	if cfg.VisibilityTimeoutSeconds <= 0 {
		cfg.VisibilityTimeoutSeconds = DefaultVisibilityTimeoutSeconds
	}

	q := &Queue{
		client:      client,
		deadLetters: deadLetters,
		cfg:         cfg,
		fifo:        strings.HasSuffix(cfg.QueueURL, ".fifo"),
		logger:      log.WithField("component", "sqs-queue"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue отправляет задачу в SQS.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, payload any, opts ...domain.EnqueueOption) (domain.Job, error) {
	job, err := domain.NewJob(uuid.NewString(), jobType, payload, q.now(), opts...)
	if err != nil {
		return domain.Job{}, err
	}
	if err := q.send(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// Poll получает одну задачу с long poll и арендует её на visibility timeout.
func (q *Queue) Poll(ctx context.Context) (domain.Job, bool, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            sdkaws.String(q.cfg.QueueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.cfg.WaitTimeSeconds,
		VisibilityTimeout:   q.cfg.VisibilityTimeoutSeconds,
	})
	if err != nil {
		return domain.Job{}, false, domain.QueueTransportError("receive", err)
	}
	if len(out.Messages) == 0 {
		return domain.Job{}, false, nil
	}

	msg := out.Messages[0]
	job, err := DecodeJob(sdkaws.ToString(msg.Body))
	if err != nil {
		q.quarantine(ctx, msg, err)
		return domain.Job{}, false, nil
	}
	job.Receipt = sdkaws.ToString(msg.ReceiptHandle)
	return job, true, nil
}

// Ack удаляет сообщение; истёкший или уже использованный receipt считается подтверждённым.
func (q *Queue) Ack(ctx context.Context, job domain.Job) error {
	if job.Receipt == "" {
		return nil
	}
	if err := q.delete(ctx, job.Receipt); err != nil {
		return domain.QueueTransportError("delete", err)
	}
	return nil
}

// Nack переотправляет задачу с увеличенным счётчиком или переносит её в DLQ.
// Исходное сообщение удаляется только после успешной записи новой копии.
func (q *Queue) Nack(ctx context.Context, job domain.Job, cause error) error {
	receipt := job.Receipt
	job.Receipt = ""
	job.Retries++

	if job.Exhausted() {
		entry := domain.NewDeadLetterEntry(job, cause, q.now())
		if err := q.deadLetters.Put(ctx, entry); err != nil {
			return domain.QueueTransportError("dead-letter", err)
		}
		if err := q.delete(ctx, receipt); err != nil {
			return domain.QueueTransportError("delete", err)
		}
		q.logger.WithFields(log.Fields{
			"job_id":   job.ID,
			"job_type": job.Type,
			"retries":  job.Retries,
		}).WithError(cause).Warn("job moved to dead-letter store")
		if q.observer != nil {
			q.observer.OnDeadLetter(ctx, entry)
		}
		return nil
	}

	if err := q.send(ctx, job); err != nil {
		return err
	}
	if err := q.delete(ctx, receipt); err != nil {
		// Копия уже в очереди; оригинал вернётся после visibility timeout и будет обработан повторно.
		return domain.QueueTransportError("delete", err)
	}
	return nil
}

// DeadLetters возвращает записи DLQ.
func (q *Queue) DeadLetters(ctx context.Context) ([]domain.DeadLetterEntry, error) {
	entries, err := q.deadLetters.List(ctx)
	if err != nil {
		return nil, domain.QueueTransportError("list dead letters", err)
	}
	return entries, nil
}

func (q *Queue) send(ctx context.Context, job domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    sdkaws.String(q.cfg.QueueURL),
		MessageBody: sdkaws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			jobTypeAttribute: {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(string(job.Type)),
			},
		},
	}
	if q.fifo {
		// Группа по типу сохраняет порядок внутри типа; дедупликация учитывает попытку,
		// иначе повторная отправка в окне дедупликации была бы отброшена.
		input.MessageGroupId = sdkaws.String(string(job.Type))
		input.MessageDeduplicationId = sdkaws.String(fmt.Sprintf("%s-%d", job.ID, job.Retries))
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return domain.QueueTransportError("send", err)
	}
	return nil
}

func (q *Queue) delete(ctx context.Context, receipt string) error {
	if receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      sdkaws.String(q.cfg.QueueURL),
		ReceiptHandle: sdkaws.String(receipt),
	})
	if err != nil && !isInvalidReceipt(err) {
		return err
	}
	return nil
}

// quarantine переносит нечитаемое сообщение в DLQ, чтобы оно не блокировало очередь.
func (q *Queue) quarantine(ctx context.Context, msg sqstypes.Message, decodeErr error) {
	entry := domain.NewDeadLetterEntry(domain.Job{
		ID:      sdkaws.ToString(msg.MessageId),
		Payload: json.RawMessage(quotedBody(sdkaws.ToString(msg.Body))),
	}, decodeErr, q.now())

	logger := q.logger.WithField("message_id", entry.Job.ID).WithError(decodeErr)
	if err := q.deadLetters.Put(ctx, entry); err != nil {
		logger.WithField("store_error", err.Error()).Error("failed to quarantine undecodable message")
		return
	}
	if err := q.delete(ctx, sdkaws.ToString(msg.ReceiptHandle)); err != nil {
		logger.WithField("delete_error", err.Error()).Warn("failed to delete quarantined message")
	}
	logger.Error("undecodable message moved to dead-letter store")
	if q.observer != nil {
		q.observer.OnDeadLetter(ctx, entry)
	}
}

// DecodeJob разбирает тело сообщения SQS.
func DecodeJob(body string) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return domain.Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return domain.Job{}, errors.New("decode job: id is empty")
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = domain.DefaultMaxRetries
	}
	return job, nil
}

func quotedBody(body string) []byte {
	raw, err := json.Marshal(body)
	if err != nil {
		return []byte(`""`)
	}
	return raw
}

func isInvalidReceipt(err error) bool {
	var invalid *sqstypes.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "AWS.SimpleQueueService.ReceiptHandleIsInvalid":
			return true
		}
	}
	return false
}

var _ domain.JobQueue = (*Queue)(nil)
