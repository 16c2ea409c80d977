// Package httpapi: HTTP API витрины на gin: заказы, платежи и админка.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/health"
	"github.com/vladislavdragonenkov/printme/internal/service/checkout"
	"github.com/vladislavdragonenkov/printme/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/printme/internal/service/payment"
)

// OrderCreator оформляет заказы.
type OrderCreator interface {
	Create(ctx context.Context, req checkout.CreateOrderRequest) (domain.Order, bool, error)
}

// OrderService: чтение заказов и смена статусов.
type OrderService interface {
	Get(ctx context.Context, userID, orderID string) (domain.Order, error)
	List(ctx context.Context, userID string, filter fulfillment.ListFilter) ([]domain.Order, error)
	Timeline(ctx context.Context, userID, orderID string) ([]domain.TimelineEvent, error)
	Cancel(ctx context.Context, userID, orderID string) (domain.Order, error)
	AdminList(ctx context.Context, filter fulfillment.ListFilter) ([]domain.Order, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
	ChangeStatus(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error)
}

// PaymentService обрабатывает события процессора и создаёт намерения оплаты.
type PaymentService interface {
	HandleEvent(ctx context.Context, event domain.PaymentEvent) error
	CreateIntent(ctx context.Context, userID, orderID string) (payment.Intent, error)
}

// DeadLetterLister отдаёт содержимое DLQ.
type DeadLetterLister interface {
	DeadLetters(ctx context.Context) ([]domain.DeadLetterEntry, error)
}

// Dependencies: сервисы, на которые опираются обработчики.
type Dependencies struct {
	Checkout    OrderCreator
	Orders      OrderService
	Payments    PaymentService
	DeadLetters DeadLetterLister
	// Health и Metrics необязательны; без них маршруты не регистрируются.
	Health  *health.Handler
	Metrics http.Handler
}

// Option настраивает API.
type Option func(*api)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *api) { a.logger = logger }
}

// WithWebhookSecret включает проверку подписи webhook.
func WithWebhookSecret(secret string) Option {
	return func(a *api) { a.webhookSecret = secret }
}

// WithSignatureTolerance задаёт допустимый возраст подписи.
func WithSignatureTolerance(tolerance time.Duration) Option {
	return func(a *api) { a.signatureTolerance = tolerance }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(a *api) { a.now = now }
}

type api struct {
	deps               Dependencies
	validate           *validatorv10.Validate
	logger             *log.Entry
	webhookSecret      string
	signatureTolerance time.Duration
	now                func() time.Time
}

// NewRouter собирает gin.Engine со всеми маршрутами витрины.
func NewRouter(deps Dependencies, opts ...Option) *gin.Engine {
	a := &api{
		deps:               deps,
		validate:           newValidator(),
		logger:             log.WithField("component", "http-api"),
		signatureTolerance: payment.DefaultSignatureTolerance,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))

	if deps.Health != nil {
		r.GET("/healthz", gin.WrapH(deps.Health))
	}
	r.GET("/livez", gin.WrapF(health.LivenessHandler))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	apiGroup := r.Group("/api")
	apiGroup.POST("/payments/webhook", a.paymentWebhook)

	user := apiGroup.Group("", requireUser())
	user.POST("/orders", a.createOrder)
	user.GET("/orders", a.listOrders)
	user.GET("/orders/:id", a.getOrder)
	user.GET("/orders/:id/timeline", a.orderTimeline)
	user.POST("/orders/:id/cancel", a.cancelOrder)
	user.POST("/payments/create-intent", a.createIntent)

	admin := user.Group("/admin", requireAdmin())
	admin.GET("/orders", a.adminListOrders)
	admin.GET("/orders/stats", a.adminStats)
	admin.PATCH("/orders/:id/status", a.adminChangeStatus)
	admin.GET("/jobs/dead-letters", a.adminDeadLetters)

	return r
}
