package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid: оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusProcessing: заказ передан в производство.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped: заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered: заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён до оплаты.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded: деньги по заказу возвращены клиенту.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

var (
	// ErrUserRequired: у заказа нет владельца.
	ErrUserRequired = ValidationError("user_id is required")
	// ErrItemsRequired: в заказе нет ни одной позиции.
	ErrItemsRequired = ValidationError("order must contain at least one item")
	// ErrAmountNegative: отрицательная сумма заказа.
	ErrAmountNegative = ValidationError("total must be non-negative")
	// ErrItemQtyInvalid: количество позиции не больше нуля.
	ErrItemQtyInvalid = ValidationError("item quantity must be greater than zero")
	// ErrItemPriceInvalid: отрицательная цена позиции.
	ErrItemPriceInvalid = ValidationError("item price must be non-negative")
	// ErrAmountMismatch: сумма заказа не совпадает с суммой позиций.
	ErrAmountMismatch = ValidationError("order total does not match items sum")
	// ErrIdempotencyKeyRequired: не передан ключ идемпотентности.
	ErrIdempotencyKeyRequired = ValidationError("idempotency key is required")
)

// Contact: контакты получателя уведомлений, снятые в момент оформления.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Empty сообщает, что нет ни одного канала связи.
func (c Contact) Empty() bool {
	return c.Email == "" && c.Phone == ""
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	OrderID   string
	VariantID string
	Quantity  int32
	// UnitPriceMinor фиксируется при создании заказа и больше не перечитывается из каталога.
	UnitPriceMinor int64
	// Design: непрозрачный JSON макета; пустой или null, если позиция без печати.
	Design    json.RawMessage
	CreatedAt time.Time
}

// HasDesign сообщает, нужна ли позиции задача на рендер.
func (i OrderItem) HasDesign() bool {
	trimmed := string(bytes.TrimSpace(i.Design))
	return trimmed != "" && trimmed != "null"
}

// LineTotalMinor возвращает стоимость позиции.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID               string
	UserID           string
	Status           OrderStatus
	TotalMinor       int64
	IdempotencyKey   string
	AddressID        string
	PaymentReference string
	Contact          Contact
	Items            []OrderItem
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.IdempotencyKey == "" {
		errs = append(errs, ErrIdempotencyKeyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: quantity * unit price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.LineTotalMinor()
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Validate сводит замечания ValidateInvariants в одну ошибку.
func (o *Order) Validate() error {
	return errors.Join(o.ValidateInvariants()...)
}

// ShortRef возвращает короткий номер заказа для писем и SMS.
func ShortRef(orderID string) string {
	ref := orderID
	if len(ref) > 8 {
		ref = ref[len(ref)-8:]
	}
	out := []byte(ref)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
