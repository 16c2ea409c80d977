// Package dispatcher забирает задачи из очереди, вызывает обработчики и решает между
// подтверждением, повтором и DLQ.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
)

const (
	// DefaultPollBackoff: начальная пауза после ошибки Poll.
	DefaultPollBackoff = 500 * time.Millisecond
	// DefaultMaxPollBackoff: верхняя граница паузы после ошибок Poll.
	DefaultMaxPollBackoff = 5 * time.Second
	// DefaultIdleDelay: пауза, если очередь вернула пустой ответ без ожидания.
	DefaultIdleDelay = 100 * time.Millisecond
)

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithConcurrency задаёт число опрашивающих горутин; действует только в режиме polling.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithPollBackoff задаёт начальную и максимальную паузу после ошибок Poll.
func WithPollBackoff(base, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.backoff = base
		}
		if maxBackoff >= d.backoff {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithIdleDelay задаёт паузу после пустого Poll.
func WithIdleDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.idleDelay = delay
		}
	}
}

// WithPollingMode отключает событийный режим даже для очередей с уведомлениями.
func WithPollingMode() Option {
	return func(d *Dispatcher) { d.forcePolling = true }
}

// Dispatcher: цикл обработки задач.
type Dispatcher struct {
	queue    domain.JobQueue
	registry *Registry

	concurrency  int
	backoff      time.Duration
	maxBackoff   time.Duration
	idleDelay    time.Duration
	forcePolling bool

	metrics *metrics.FulfillmentMetrics
	tracer  trace.Tracer
	logger  *log.Entry
}

// New создаёт Dispatcher.
func New(queue domain.JobQueue, registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:       queue,
		registry:    registry,
		concurrency: 1,
		backoff:     DefaultPollBackoff,
		maxBackoff:  DefaultMaxPollBackoff,
		idleDelay:   DefaultIdleDelay,
		tracer:      otel.Tracer("printme/dispatcher"),
		logger:      log.WithField("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run обрабатывает задачи до отмены ctx. Задача, взятая в работу, доводится до конца.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.queue == nil || d.registry == nil {
		return fmt.Errorf("dispatcher: queue and registry are required")
	}

	if notifier, ok := d.queue.(domain.JobNotifier); ok && !d.forcePolling {
		d.logger.Info("dispatcher started in event-driven mode")
		d.runEvents(ctx, notifier.Notifications())
		d.logger.Info("dispatcher stopped")
		return nil
	}

	d.logger.WithField("concurrency", d.concurrency).Info("dispatcher started in polling mode")
	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runPoller(ctx, d.logger.WithField("poller", worker))
		}(i)
	}
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

func (d *Dispatcher) runEvents(ctx context.Context, notifications <-chan struct{}) {
	d.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-notifications:
			d.drain(ctx)
		}
	}
}

// drain обрабатывает всё, что сейчас лежит в очереди.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		job, ok, err := d.queue.Poll(ctx)
		if err != nil {
			d.logger.WithError(err).Warn("poll failed")
			return
		}
		if !ok {
			return
		}
		if err := d.HandleDelivery(ctx, job); err != nil {
			d.logger.WithError(err).WithField("job_id", job.ID).Error("job settlement failed")
		}
	}
}

func (d *Dispatcher) runPoller(ctx context.Context, logger *log.Entry) {
	delay := d.backoff
	for ctx.Err() == nil {
		job, ok, err := d.queue.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).WithField("backoff", delay).Warn("poll failed, backing off")
			if !sleep(ctx, delay) {
				return
			}
			delay = min(delay*2, d.maxBackoff)
			continue
		}
		delay = d.backoff

		if !ok {
			if !sleep(ctx, d.idleDelay) {
				return
			}
			continue
		}
		if err := d.HandleDelivery(ctx, job); err != nil {
			logger.WithError(err).WithField("job_id", job.ID).Error("job settlement failed")
		}
	}
}

// HandleDelivery обрабатывает одну доставленную задачу. Ошибка обработчика превращается
// в Nack; возвращается только ошибка Ack/Nack.
func (d *Dispatcher) HandleDelivery(ctx context.Context, job domain.Job) error {
	logger := d.logger.WithFields(log.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"retries":  job.Retries,
	})

	handler, ok := d.registry.Lookup(job.Type)
	if !ok {
		// Задачу не подтверждаем: её заберёт процесс с нужным обработчиком
		// или она снова станет видимой по таймауту.
		d.metrics.RecordJobProcessed(job.Type, metrics.OutcomeUnhandled, 0)
		logger.Error("no handler registered for job type")
		if releaser, ok := d.queue.(domain.JobReleaser); ok {
			if err := releaser.Release(context.WithoutCancel(ctx), job); err != nil {
				return fmt.Errorf("release job %s: %w", job.ID, err)
			}
			// Без таймаута видимости задача вернётся сразу; пауза не даёт крутить её вхолостую.
			sleep(ctx, d.backoff)
		}
		return nil
	}

	jobCtx, span := d.tracer.Start(context.WithoutCancel(ctx), "job."+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.retries", job.Retries),
	))
	defer span.End()

	started := time.Now()
	err := invoke(jobCtx, handler, job)
	elapsed := time.Since(started)

	if err == nil {
		d.metrics.RecordJobProcessed(job.Type, metrics.OutcomeSucceeded, elapsed)
		logger.WithField("duration", elapsed).Info("job succeeded")
		if ackErr := d.queue.Ack(jobCtx, job); ackErr != nil {
			span.RecordError(ackErr)
			return fmt.Errorf("ack job %s: %w", job.ID, ackErr)
		}
		return nil
	}

	cause := domain.WrapError(domain.KindJobHandlerFailure, err, "%s job %s", job.Type, job.ID)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	d.metrics.RecordJobProcessed(job.Type, metrics.OutcomeFailed, elapsed)
	logger.WithError(err).WithField("duration", elapsed).Warn("job failed")

	if nackErr := d.queue.Nack(jobCtx, job, cause); nackErr != nil {
		return fmt.Errorf("nack job %s: %w", job.ID, nackErr)
	}
	return nil
}

// invoke вызывает обработчик, превращая панику в ошибку.
func invoke(ctx context.Context, handler Handler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"job_id": job.ID,
				"stack":  string(debug.Stack()),
			}).Error("job handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
