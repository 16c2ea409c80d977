package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Message: готовое к отправке уведомление.
type Message struct {
	Subject string
	Text    string
}

// Sender доставляет уведомления по каналам.
type Sender interface {
	SendEmail(ctx context.Context, to string, msg Message) error
	SendSMS(ctx context.Context, to, text string) error
}

// RenderMessage возвращает текст уведомления вида kind для заказа.
func RenderMessage(kind domain.NotificationKind, orderID string) (Message, error) {
	ref := domain.ShortRef(orderID)
	switch kind {
	case domain.NotificationOrderConfirmed:
		return Message{
			Subject: fmt.Sprintf("PrintMe - Order #%s Confirmed", ref),
			Text:    fmt.Sprintf("Your order #%s has been confirmed and payment received. We'll start processing it right away!", ref),
		}, nil
	case domain.NotificationOrderShipped:
		return Message{
			Subject: fmt.Sprintf("PrintMe - Order #%s Shipped!", ref),
			Text:    fmt.Sprintf("Your order #%s has been shipped. Track your delivery in your account.", ref),
		}, nil
	case domain.NotificationOrderDelivered:
		return Message{
			Subject: fmt.Sprintf("PrintMe - Order #%s Delivered", ref),
			Text:    fmt.Sprintf("Your order #%s has been delivered. Enjoy your custom prints!", ref),
		}, nil
	case domain.NotificationOrderRefunded:
		return Message{
			Subject: fmt.Sprintf("PrintMe - Order #%s Refunded", ref),
			Text:    fmt.Sprintf("Your order #%s has been refunded. The amount will appear in your account within 5-7 business days.", ref),
		}, nil
	default:
		return Message{}, domain.ValidationError("unknown notification kind %q", kind)
	}
}

// LogSender пишет уведомления в лог вместо отправки.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "notification-sender")
	}
	return &LogSender{logger: logger}
}

// SendEmail реализует Sender.
func (s *LogSender) SendEmail(_ context.Context, to string, msg Message) error {
	s.logger.WithFields(log.Fields{"channel": "email", "to": to, "subject": msg.Subject}).Info(msg.Text)
	return nil
}

// SendSMS реализует Sender.
func (s *LogSender) SendSMS(_ context.Context, to, text string) error {
	s.logger.WithFields(log.Fields{"channel": "sms", "to": to}).Info(text)
	return nil
}

// SendNotification: обработчик задачи SEND_NOTIFICATION.
type SendNotification struct {
	sender Sender
	logger *log.Entry
}

// NewSendNotification создаёт обработчик.
func NewSendNotification(sender Sender, logger *log.Entry) *SendNotification {
	if logger == nil {
		logger = log.WithField("component", "send-notification")
	}
	return &SendNotification{sender: sender, logger: logger}
}

// Handle отправляет письмо, если есть email, и SMS, если есть телефон.
func (h *SendNotification) Handle(ctx context.Context, job domain.Job) error {
	var payload domain.NotificationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return domain.WrapError(domain.KindValidation, err, "decode notification payload")
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	msg, err := RenderMessage(payload.Kind, payload.OrderID)
	if err != nil {
		return err
	}

	logger := h.logger.WithFields(log.Fields{
		"job_id":   job.ID,
		"order_id": payload.OrderID,
		"kind":     payload.Kind,
	})
	if payload.Recipient.Empty() {
		logger.Warn("notification has no recipient, skipping")
		return nil
	}

	var errs []error
	if email := payload.Recipient.Email; email != "" {
		if err := h.sender.SendEmail(ctx, email, msg); err != nil {
			errs = append(errs, fmt.Errorf("send email: %w", err))
		}
	}
	if phone := payload.Recipient.Phone; phone != "" {
		if err := h.sender.SendSMS(ctx, phone, msg.Text); err != nil {
			errs = append(errs, fmt.Errorf("send sms: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("notification sent")
	return nil
}
