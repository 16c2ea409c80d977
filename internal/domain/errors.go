package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind: закрытый перечень категорий ошибок ядра.
// Значение само реализует error, поэтому errors.Is(err, KindNotFound) работает для любой
// ошибки, несущей эту категорию.
type ErrorKind string

const (
	// KindValidation: некорректный или неполный ввод, отклоняется до записи.
	KindValidation ErrorKind = "validation"
	// KindNotFound: заказ, вариант или адрес отсутствует.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidTransition: переход статуса запрещён таблицей переходов.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindInsufficientStock: на складе меньше, чем запрошено.
	KindInsufficientStock ErrorKind = "insufficient_stock"
	// KindProductUnavailable: родительский товар деактивирован.
	KindProductUnavailable ErrorKind = "product_unavailable"
	// KindConflict: гонка по ключу идемпотентности или версии заказа.
	KindConflict ErrorKind = "conflict"
	// KindJobHandlerFailure: обработчик задачи завершился ошибкой.
	KindJobHandlerFailure ErrorKind = "job_handler_failure"
	// KindQueueTransport: сбой транспорта очереди (poll, соединение).
	KindQueueTransport ErrorKind = "queue_transport_failure"
)

var errorKinds = []ErrorKind{
	KindValidation,
	KindNotFound,
	KindInvalidTransition,
	KindInsufficientStock,
	KindProductUnavailable,
	KindConflict,
	KindJobHandlerFailure,
	KindQueueTransport,
}

// Error реализует error.
func (k ErrorKind) Error() string {
	return string(k)
}

// Code возвращает машинно-читаемый код категории для внешних ответов.
func (k ErrorKind) Code() string {
	if k == "" {
		return "INTERNAL"
	}
	return strings.ToUpper(string(k))
}

// Error: ошибка ядра с явной категорией.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с её категорией.
func (e *Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

// NewError создаёт ошибку заданной категории.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError оборачивает причину в ошибку заданной категории.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError создаёт ошибку валидации ввода.
func ValidationError(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

// QueueTransportError оборачивает сбой транспорта очереди.
func QueueTransportError(op string, err error) *Error {
	return &Error{Kind: KindQueueTransport, Message: "queue " + op, Err: err}
}

// KindOf извлекает категорию ошибки; для неизвестных ошибок возвращает пустую строку.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ""
}

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = &Error{Kind: KindNotFound, Message: "order not found"}
	// ErrVariantNotFound: вариант товара отсутствует в складском реестре.
	ErrVariantNotFound = &Error{Kind: KindNotFound, Message: "variant not found"}
	// ErrAddressNotFound: адрес доставки отсутствует.
	ErrAddressNotFound = &Error{Kind: KindNotFound, Message: "address not found"}
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = &Error{Kind: KindConflict, Message: "order version conflict"}
	// ErrIdempotencyConflict: заказ с таким ключом идемпотентности уже создан конкурентом.
	ErrIdempotencyConflict = &Error{Kind: KindConflict, Message: "idempotency key already used"}
	// ErrProductUnavailable: товар снят с продажи.
	ErrProductUnavailable = &Error{Kind: KindProductUnavailable, Message: "product unavailable"}
	// ErrUnknownJobType: тип задачи не входит в закрытый перечень.
	ErrUnknownJobType = &Error{Kind: KindValidation, Message: "unknown job type"}
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// InsufficientStockError: запрошено больше, чем есть на складе.
type InsufficientStockError struct {
	VariantID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

// Is сопоставляет ошибку с KindInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == KindInsufficientStock
}
