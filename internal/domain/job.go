package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultMaxRetries: число неудачных попыток, после которого задача уходит в DLQ.
const DefaultMaxRetries = 3

// JobType: закрытый перечень типов фоновых задач.
type JobType string

const (
	// JobRenderPrint: подготовка файла для печати по макету позиции.
	JobRenderPrint JobType = "RENDER_PRINT"
	// JobSendNotification: отправка уведомления клиенту.
	JobSendNotification JobType = "SEND_NOTIFICATION"
)

// JobTypes возвращает все известные типы задач.
func JobTypes() []JobType {
	return []JobType{JobRenderPrint, JobSendNotification}
}

// Valid сообщает, входит ли тип в перечень.
func (t JobType) Valid() bool {
	switch t {
	case JobRenderPrint, JobSendNotification:
		return true
	default:
		return false
	}
}

// Job: запись очереди; JSON-форма совпадает с форматом хранения и передачи.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"maxRetries"`
	CreatedAt  time.Time       `json:"createdAt"`
	// Receipt: транспортный дескриптор аренды (SQS receipt handle, lease token); наружу не уходит.
	Receipt string `json:"-"`
}

// Exhausted сообщает, что бюджет попыток исчерпан.
func (j Job) Exhausted() bool {
	return j.Retries >= j.MaxRetries
}

// DeadLetterEntry: задача, исчерпавшая попытки; хранится для ручного разбора и не удаляется.
type DeadLetterEntry struct {
	Job       Job       `json:"job"`
	LastError string    `json:"lastError"`
	FailedAt  time.Time `json:"failedAt"`
}

// NotificationKind: вид уведомления клиенту.
type NotificationKind string

const (
	NotificationOrderConfirmed NotificationKind = "ORDER_CONFIRMED"
	NotificationOrderShipped   NotificationKind = "ORDER_SHIPPED"
	NotificationOrderDelivered NotificationKind = "ORDER_DELIVERED"
	NotificationOrderRefunded  NotificationKind = "ORDER_REFUNDED"
)

// Valid сообщает, входит ли вид в перечень.
func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationOrderConfirmed, NotificationOrderShipped, NotificationOrderDelivered, NotificationOrderRefunded:
		return true
	default:
		return false
	}
}

// NotificationForStatus возвращает уведомление, которое положено отправить при входе в статус.
func NotificationForStatus(status OrderStatus) (NotificationKind, bool) {
	switch status {
	case OrderStatusPaid:
		return NotificationOrderConfirmed, true
	case OrderStatusShipped:
		return NotificationOrderShipped, true
	case OrderStatusDelivered:
		return NotificationOrderDelivered, true
	case OrderStatusRefunded:
		return NotificationOrderRefunded, true
	default:
		return "", false
	}
}

// RenderPrintPayload: данные задачи RENDER_PRINT.
type RenderPrintPayload struct {
	OrderID     string          `json:"orderId"`
	OrderItemID string          `json:"orderItemId"`
	Design      json.RawMessage `json:"design"`
}

// Validate проверяет обязательные поля.
func (p RenderPrintPayload) Validate() error {
	switch {
	case p.OrderID == "":
		return ValidationError("render payload: orderId is required")
	case p.OrderItemID == "":
		return ValidationError("render payload: orderItemId is required")
	case len(p.Design) == 0:
		return ValidationError("render payload: design is required")
	}
	return nil
}

// NotificationPayload: данные задачи SEND_NOTIFICATION.
type NotificationPayload struct {
	Kind      NotificationKind `json:"kind"`
	OrderID   string           `json:"orderId"`
	Recipient Contact          `json:"recipient"`
}

// Validate проверяет обязательные поля.
func (p NotificationPayload) Validate() error {
	if !p.Kind.Valid() {
		return ValidationError("notification payload: unknown kind %q", p.Kind)
	}
	if p.OrderID == "" {
		return ValidationError("notification payload: orderId is required")
	}
	return nil
}

// EnqueueOptions: параметры постановки задачи.
type EnqueueOptions struct {
	MaxRetries int
}

// EnqueueOption настраивает постановку задачи.
type EnqueueOption func(*EnqueueOptions)

// WithMaxRetries переопределяет бюджет попыток.
func WithMaxRetries(n int) EnqueueOption {
	return func(o *EnqueueOptions) {
		if n > 0 {
			o.MaxRetries = n
		}
	}
}

// ApplyEnqueueOptions собирает параметры с учётом значений по умолчанию.
func ApplyEnqueueOptions(opts ...EnqueueOption) EnqueueOptions {
	options := EnqueueOptions{MaxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// NewJob собирает задачу из типа и полезной нагрузки; id и время задаёт вызывающая очередь.
func NewJob(id string, jobType JobType, payload any, now time.Time, opts ...EnqueueOption) (Job, error) {
	if !jobType.Valid() {
		return Job{}, WrapError(KindValidation, ErrUnknownJobType, "job type %q", jobType)
	}
	raw, err := marshalPayload(payload)
	if err != nil {
		return Job{}, WrapError(KindValidation, err, "encode %s payload", jobType)
	}
	options := ApplyEnqueueOptions(opts...)
	return Job{
		ID:         id,
		Type:       jobType,
		Payload:    raw,
		MaxRetries: options.MaxRetries,
		CreatedAt:  now,
	}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}

// JobQueue: почтовый ящик типизированных задач с ограниченными повторами и DLQ.
type JobQueue interface {
	// Enqueue ставит задачу; либо успешно, либо целиком с ошибкой.
	Enqueue(ctx context.Context, jobType JobType, payload any, opts ...EnqueueOption) (Job, error)
	// Poll возвращает следующую доступную задачу; ok=false, если очередь пуста.
	Poll(ctx context.Context) (job Job, ok bool, err error)
	// Ack окончательно удаляет задачу; повторный вызов ничего не делает.
	Ack(ctx context.Context, job Job) error
	// Nack увеличивает счётчик попыток и либо возвращает задачу в очередь, либо переносит в DLQ.
	Nack(ctx context.Context, job Job, cause error) error
	// DeadLetters возвращает содержимое DLQ только для чтения.
	DeadLetters(ctx context.Context) ([]DeadLetterEntry, error)
}

// JobNotifier реализуют очереди, умеющие сигнализировать о появлении задач.
type JobNotifier interface {
	Notifications() <-chan struct{}
}

// JobReleaser реализуют очереди без таймаута видимости: Release возвращает задачу
// в очередь без учёта попытки.
type JobReleaser interface {
	Release(ctx context.Context, job Job) error
}

// DeadLetterStore хранит записи DLQ для распределённых бэкендов.
type DeadLetterStore interface {
	Put(ctx context.Context, entry DeadLetterEntry) error
	List(ctx context.Context) ([]DeadLetterEntry, error)
}

// DeadLetterObserver получает уведомление после переноса задачи в DLQ.
type DeadLetterObserver interface {
	OnDeadLetter(ctx context.Context, entry DeadLetterEntry)
}

// DeadLetterObservers рассылает уведомление нескольким наблюдателям.
type DeadLetterObservers []DeadLetterObserver

// OnDeadLetter реализует DeadLetterObserver.
func (o DeadLetterObservers) OnDeadLetter(ctx context.Context, entry DeadLetterEntry) {
	for _, observer := range o {
		if observer != nil {
			observer.OnDeadLetter(ctx, entry)
		}
	}
}

// NewDeadLetterEntry фиксирует задачу и причину последнего отказа.
func NewDeadLetterEntry(job Job, cause error, now time.Time) DeadLetterEntry {
	lastError := "unknown error"
	if cause != nil {
		lastError = cause.Error()
	}
	job.Receipt = ""
	return DeadLetterEntry{Job: job, LastError: lastError, FailedAt: now}
}
