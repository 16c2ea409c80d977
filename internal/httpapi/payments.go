package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/service/payment"
)

// paymentWebhook принимает события процессора. После проверки подписи ответ 200, если
// тело разобрано как JSON: неполные события и ошибки обработки только логируются.
// Обработка не зависит от обрыва соединения процессором.
func (a *api) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, a.logger, err)
		return
	}

	if a.webhookSecret != "" {
		err := payment.VerifySignature(a.webhookSecret, c.GetHeader(payment.SignatureHeader), body, a.now(), a.signatureTolerance)
		if err != nil {
			a.logger.WithError(err).Warn("webhook signature verification failed")
			abortWith(c, http.StatusBadRequest, codeInvalidSignature, "webhook verification failed")
			return
		}
	}

	event, ok, err := payment.ParseWebhookEvent(body)
	if errors.Is(err, payment.ErrMalformedWebhook) {
		writeError(c, a.logger, err)
		return
	}
	if err != nil {
		a.logger.WithError(err).Warn("payment webhook event rejected")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if !ok {
		a.logger.Debug("unhandled webhook event type")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	logger := a.logger.WithFields(log.Fields{
		"order_id":          event.OrderID,
		"payment_reference": event.PaymentReference,
		"outcome":           event.Outcome,
	})
	if err := a.deps.Payments.HandleEvent(context.WithoutCancel(c.Request.Context()), event); err != nil {
		logger.WithError(err).Error("failed to process payment webhook")
	} else {
		logger.Info("payment webhook processed")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (a *api) createIntent(c *gin.Context) {
	var req createIntentRequest
	if err := bindJSON(c, a.validate, &req); err != nil {
		writeError(c, a.logger, err)
		return
	}

	intent, err := a.deps.Payments.CreateIntent(c.Request.Context(), currentIdentity(c).UserID, req.OrderID)
	if err != nil {
		if errors.Is(err, payment.ErrCircuitOpen) {
			abortWith(c, http.StatusServiceUnavailable, "PAYMENT_PROVIDER_UNAVAILABLE", "payment provider is temporarily unavailable")
			return
		}
		writeError(c, a.logger, err)
		return
	}
	c.JSON(http.StatusOK, createIntentResponse{PaymentIntentID: intent.ID, ClientSecret: intent.ClientSecret})
}
