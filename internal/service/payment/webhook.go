package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// SignatureHeader: заголовок с подписью webhook.
const SignatureHeader = "Payment-Signature"

// DefaultSignatureTolerance: допустимое расхождение метки времени подписи.
const DefaultSignatureTolerance = 5 * time.Minute

// Типы событий процессора, на которые реагирует webhook.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

var (
	// ErrSignatureMissing: заголовок подписи отсутствует или пуст.
	ErrSignatureMissing = errors.New("webhook signature missing")
	// ErrSignatureInvalid: подпись не совпала или устарела.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrMalformedWebhook: тело webhook не разбирается как JSON-событие.
	ErrMalformedWebhook = errors.New("malformed webhook body")
)

// Sign формирует значение заголовка подписи: t=<unix>,v1=<hex hmac-sha256("t.body")>.
func Sign(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(secret, ts, body)
}

func computeSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет заголовок подписи. tolerance <= 0 отключает проверку возраста.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}

	var ts string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
		}
	}

	expected := []byte(computeSignature(secret, ts, body))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent разбирает тело webhook. Для типов, на которые не нужно реагировать,
// возвращает ok=false без ошибки. Нечитаемое тело даёт ErrMalformedWebhook, неполное
// событие: ошибку валидации без него.
func ParseWebhookEvent(body []byte) (event domain.PaymentEvent, ok bool, err error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.PaymentEvent{}, false, domain.WrapError(domain.KindValidation, fmt.Errorf("%w: %v", ErrMalformedWebhook, err), "webhook body")
	}

	var outcome domain.PaymentOutcome
	switch envelope.Type {
	case EventIntentSucceeded:
		outcome = domain.PaymentSucceeded
	case EventIntentFailed:
		outcome = domain.PaymentFailed
	default:
		return domain.PaymentEvent{}, false, nil
	}

	event = domain.PaymentEvent{
		OrderID:          envelope.Data.Object.Metadata["orderId"],
		PaymentReference: envelope.Data.Object.ID,
		Outcome:          outcome,
	}
	if err := event.Validate(); err != nil {
		return domain.PaymentEvent{}, false, err
	}
	return event, true, nil
}

// WebhookBody собирает тело события процессора; используется нагрузочным тестом и тестами.
func WebhookBody(eventType, intentID, orderID string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":   "evt_" + intentID,
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":       intentID,
				"metadata": map[string]string{"orderId": orderID},
			},
		},
	})
	return body
}
