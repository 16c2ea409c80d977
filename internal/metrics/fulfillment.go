// Package metrics: Prometheus-метрики конвейера заказов и фоновых задач.
// Все методы безопасны для nil-получателя: сервисы в тестах работают без метрик.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Исходы обработки задачи.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeUnhandled = "unhandled"
)

// FulfillmentMetrics содержит метрики оформления, оплаты и обработки задач.
type FulfillmentMetrics struct {
	ordersCreated          *prometheus.CounterVec
	transitions            *prometheus.CounterVec
	versionConflicts       prometheus.Counter
	stockDecrementFailures prometheus.Counter
	paymentEvents          *prometheus.CounterVec
	jobsEnqueued           *prometheus.CounterVec
	jobsProcessed          *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
	jobsDeadLettered       *prometheus.CounterVec
}

// NewFulfillmentMetrics регистрирует метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в заданном registerer.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_orders_created_total",
			Help: "Checkout requests grouped by result (created or replayed).",
		}, []string{"result"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_order_transitions_total",
			Help: "Persisted order status transitions.",
		}, []string{"from", "to"}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "printme_order_version_conflicts_total",
			Help: "Optimistic concurrency conflicts on order status updates.",
		}),
		stockDecrementFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "printme_stock_decrement_failures_total",
			Help: "Stock decrements that failed after payment confirmation.",
		}),
		paymentEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_payment_events_total",
			Help: "Payment events grouped by outcome and handling result.",
		}, []string{"outcome", "result"}),
		jobsEnqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_jobs_enqueued_total",
			Help: "Background jobs enqueued by type.",
		}, []string{"type"}),
		jobsProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_jobs_processed_total",
			Help: "Background jobs processed by type and outcome.",
		}, []string{"type", "outcome"}),
		jobDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "printme_job_duration_seconds",
			Help:    "Job handler duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"type"}),
		jobsDeadLettered: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "printme_jobs_dead_lettered_total",
			Help: "Jobs moved to the dead-letter queue by type.",
		}, []string{"type"}),
	}
}

// RecordOrderCreated учитывает результат оформления заказа.
func (m *FulfillmentMetrics) RecordOrderCreated(created bool) {
	if m == nil {
		return
	}
	result := "replayed"
	if created {
		result = "created"
	}
	m.ordersCreated.WithLabelValues(result).Inc()
}

// RecordTransition учитывает сохранённый переход статуса.
func (m *FulfillmentMetrics) RecordTransition(from, to domain.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordVersionConflict учитывает конфликт версий при сохранении статуса.
func (m *FulfillmentMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordStockDecrementFailure учитывает неудачное списание остатка.
func (m *FulfillmentMetrics) RecordStockDecrementFailure() {
	if m == nil {
		return
	}
	m.stockDecrementFailures.Inc()
}

// RecordPaymentEvent учитывает обработанное платёжное событие.
func (m *FulfillmentMetrics) RecordPaymentEvent(outcome domain.PaymentOutcome, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(string(outcome), result).Inc()
}

// RecordJobEnqueued учитывает поставленную задачу.
func (m *FulfillmentMetrics) RecordJobEnqueued(jobType domain.JobType) {
	if m == nil {
		return
	}
	m.jobsEnqueued.WithLabelValues(string(jobType)).Inc()
}

// RecordJobProcessed учитывает исход и длительность обработки задачи.
func (m *FulfillmentMetrics) RecordJobProcessed(jobType domain.JobType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(string(jobType), outcome).Inc()
	m.jobDuration.WithLabelValues(string(jobType)).Observe(duration.Seconds())
}

// OnDeadLetter реализует domain.DeadLetterObserver.
func (m *FulfillmentMetrics) OnDeadLetter(_ context.Context, entry domain.DeadLetterEntry) {
	if m == nil {
		return
	}
	m.jobsDeadLettered.WithLabelValues(string(entry.Job.Type)).Inc()
}

var _ domain.DeadLetterObserver = (*FulfillmentMetrics)(nil)
