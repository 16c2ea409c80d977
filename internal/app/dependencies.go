package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/health"
	"github.com/vladislavdragonenkov/printme/internal/httpapi"
	"github.com/vladislavdragonenkov/printme/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/printme/internal/metrics"
	awsplatform "github.com/vladislavdragonenkov/printme/internal/platform/aws"
	"github.com/vladislavdragonenkov/printme/internal/queue/deadletter"
	"github.com/vladislavdragonenkov/printme/internal/queue/memqueue"
	"github.com/vladislavdragonenkov/printme/internal/queue/pgqueue"
	"github.com/vladislavdragonenkov/printme/internal/queue/sqsqueue"
	"github.com/vladislavdragonenkov/printme/internal/service/checkout"
	"github.com/vladislavdragonenkov/printme/internal/service/dispatcher"
	"github.com/vladislavdragonenkov/printme/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/printme/internal/service/jobs"
	"github.com/vladislavdragonenkov/printme/internal/service/orderstate"
	"github.com/vladislavdragonenkov/printme/internal/service/outbox"
	"github.com/vladislavdragonenkov/printme/internal/service/payment"
	"github.com/vladislavdragonenkov/printme/internal/storage/memory"
	"github.com/vladislavdragonenkov/printme/internal/storage/postgres"
)

const (
	cloudWatchNamespace = "PrintMe/Jobs"

	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
	maxPollBackoff      = 5 * time.Second
)

// TopicOrderEventsDLQ: топик для событий outbox, исчерпавших попытки публикации.
const TopicOrderEventsDLQ = kafka.TopicOrderEvents + ".dlq"

// Dependencies содержит все зависимости приложения, собранные по Config.
type Dependencies struct {
	Config Config
	Logger *log.Entry

	UnitOfWork  domain.UnitOfWork
	Stock       domain.StockLedger
	Outbox      domain.OutboxRepository
	Queue       domain.JobQueue
	DeadLetters domain.DeadLetterStore

	Checkout    *checkout.Transactor
	Changer     *orderstate.Changer
	Payments    *payment.Handler
	Fulfillment *fulfillment.Service

	Registry   *dispatcher.Registry
	Dispatcher *dispatcher.Dispatcher
	Relay      *outbox.Relay
	Health     *health.Handler

	Producer *kafka.Producer
	AWS      *awsplatform.Clients

	Metrics       *metrics.FulfillmentMetrics
	OutboxMetrics *metrics.OutboxMetrics

	memoryStore *memory.Store
	pgStore     *postgres.Store
	closers     []func()
}

// NewDependencies создаёт и инициализирует все зависимости приложения.
// При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Dependencies{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics.NewFulfillmentMetrics(),
		OutboxMetrics: metrics.NewOutboxMetrics(),
		Health:        health.NewHandler(),
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if err := d.initStorage(ctx); err != nil {
		return nil, err
	}
	if cfg.QueueBackend == QueueBackendSQS {
		clients, err := awsplatform.NewClients(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		d.AWS = clients
	}
	if cfg.KafkaEnabled() {
		producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, err
		}
		d.Producer = producer
		d.closers = append(d.closers, func() { closeKafka(producer, logger) })
	}
	if err := d.initQueue(); err != nil {
		return nil, err
	}
	if err := d.initServices(); err != nil {
		return nil, err
	}
	d.initHealth()
	return d, nil
}

func (d *Dependencies) initStorage(ctx context.Context) error {
	switch d.Config.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, d.Config.PostgresDSN)
		if err != nil {
			return err
		}
		d.pgStore = store
		d.closers = append(d.closers, func() {
			if err := store.Close(); err != nil {
				d.Logger.WithError(err).Warn("failed to close postgres store")
			}
		})
		if d.Config.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		if d.Config.SeedDemoCatalogue {
			for _, variant := range memory.DemoCatalogue() {
				if err := store.UpsertVariant(ctx, variant); err != nil {
					return fmt.Errorf("seed variant %s: %w", variant.ID, err)
				}
			}
		}
		repos := store.Repositories()
		d.UnitOfWork = store
		d.Stock = repos.Stock
		d.Outbox = repos.Outbox
	default:
		var opts []memory.StoreOption
		if d.Config.SeedDemoCatalogue {
			opts = append(opts, memory.WithVariants(memory.DemoCatalogue()...))
		}
		store := memory.NewStore(opts...)
		d.memoryStore = store
		d.UnitOfWork = store
		d.Stock = store.Stock()
		d.Outbox = store.Outbox()
	}
	d.Logger.WithField("driver", d.Config.StorageDriver).Info("storage initialized")
	return nil
}

// deadLetterObservers собирает наблюдателей DLQ, доступных в текущей конфигурации.
func (d *Dependencies) deadLetterObservers() domain.DeadLetterObservers {
	observers := domain.DeadLetterObservers{d.Metrics}
	if d.Producer != nil {
		observers = append(observers, kafka.NewJobDeadLetterAlerts(d.Producer, kafka.TopicJobsDLQ))
	}
	if d.AWS != nil {
		observers = append(observers, awsplatform.NewDeadLetterMetrics(
			d.AWS.CloudWatch,
			cloudWatchNamespace,
			d.Logger.WithField("component", "dlq-cloudwatch"),
		))
	}
	return observers
}

func (d *Dependencies) initQueue() error {
	observers := d.deadLetterObservers()
	logger := d.Logger.WithFields(log.Fields{"component": "queue", "backend": d.Config.QueueBackend})

	switch d.Config.QueueBackend {
	case QueueBackendPostgres:
		q, err := pgqueue.New(d.pgStore.DB(), pgqueue.Config{},
			pgqueue.WithLogger(logger),
			pgqueue.WithDeadLetterObserver(observers),
		)
		if err != nil {
			return err
		}
		d.Queue = q
	case QueueBackendSQS:
		if d.Config.DLQTable != "" {
			d.DeadLetters = deadletter.NewDynamoStore(d.AWS.DynamoDB, d.Config.DLQTable)
		} else {
			d.DeadLetters = deadletter.NewMemoryStore()
		}
		q, err := sqsqueue.New(d.AWS.SQS, d.DeadLetters, sqsqueue.Config{QueueURL: d.Config.SQSQueueURL},
			sqsqueue.WithLogger(logger),
			sqsqueue.WithDeadLetterObserver(observers),
		)
		if err != nil {
			return err
		}
		d.Queue = q
	default:
		d.Queue = memqueue.New(
			memqueue.WithLogger(logger),
			memqueue.WithDeadLetterObserver(observers),
		)
	}
	return nil
}

func (d *Dependencies) initServices() error {
	cfg := d.Config

	d.Changer = orderstate.NewChanger(d.UnitOfWork,
		orderstate.WithLogger(d.Logger.WithField("component", "order-state")),
		orderstate.WithMetrics(d.Metrics),
	)
	d.Checkout = checkout.NewTransactor(d.UnitOfWork,
		checkout.WithLogger(d.Logger.WithField("component", "checkout")),
		checkout.WithMetrics(d.Metrics),
	)

	breaker := payment.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, d.Logger.WithField("component", "payment-breaker"))
	d.Payments = payment.NewHandler(d.UnitOfWork, d.Changer, d.Stock, d.Queue,
		payment.WithLogger(d.Logger.WithField("component", "payment-handler")),
		payment.WithMetrics(d.Metrics),
		payment.WithIntentProvider(payment.NewBreakerProvider(payment.NewMockProvider(), breaker)),
	)
	d.Fulfillment = fulfillment.NewService(d.UnitOfWork, d.Changer, d.Payments, d.Queue,
		fulfillment.WithLogger(d.Logger.WithField("component", "fulfillment")),
		fulfillment.WithMetrics(d.Metrics),
	)

	d.Registry = dispatcher.NewRegistry()
	render := jobs.NewRenderPrint(jobs.NewFileRenderer(cfg.RenderOutputDir), d.Logger.WithField("component", "render-print"))
	if err := d.Registry.Register(domain.JobRenderPrint, render); err != nil {
		return err
	}
	notifyLogger := d.Logger.WithField("component", "send-notification")
	if err := d.Registry.Register(domain.JobSendNotification, jobs.NewSendNotification(jobs.NewLogSender(notifyLogger), notifyLogger)); err != nil {
		return err
	}

	dispatcherOpts := []dispatcher.Option{
		dispatcher.WithLogger(d.Logger.WithField("component", "dispatcher")),
		dispatcher.WithMetrics(d.Metrics),
		dispatcher.WithConcurrency(cfg.DispatcherConcurrency),
		dispatcher.WithPollBackoff(cfg.DispatcherPollBackoff, maxPollBackoff),
	}
	d.Dispatcher = dispatcher.New(d.Queue, d.Registry, dispatcherOpts...)

	relayOpts := []outbox.Option{
		outbox.WithLogger(d.Logger.WithField("component", "outbox-relay")),
		outbox.WithMetrics(d.OutboxMetrics),
	}
	var publisher domain.OutboxPublisher = logPublisher{logger: d.Logger.WithField("component", "outbox-log")}
	if d.Producer != nil {
		publisher = kafka.NewOutboxPublisher(d.Producer, kafka.TopicOrderEvents)
		relayOpts = append(relayOpts, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(d.Producer, TopicOrderEventsDLQ)))
	}
	d.Relay = outbox.NewRelay(d.Outbox, publisher, outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxAttempts:  cfg.OutboxMaxAttempts,
	}, relayOpts...)
	return nil
}

func (d *Dependencies) initHealth() {
	if d.pgStore != nil {
		d.Health.RegisterChecker("postgres", health.NewPingChecker("postgres", d.pgStore))
	}
	d.Health.RegisterChecker("dead_letters", health.NewDeadLetterChecker(d.Queue))
}

// Router собирает HTTP API витрины.
func (d *Dependencies) Router() *gin.Engine {
	var metricsHandler http.Handler = promhttp.Handler()
	return httpapi.NewRouter(httpapi.Dependencies{
		Checkout:    d.Checkout,
		Orders:      d.Fulfillment,
		Payments:    d.Payments,
		DeadLetters: d.Queue,
		Health:      d.Health,
		Metrics:     metricsHandler,
	},
		httpapi.WithLogger(d.Logger.WithField("component", "http")),
		httpapi.WithWebhookSecret(d.Config.PaymentWebhookSecret),
	)
}

// MemoryStore возвращает in-memory хранилище или nil для postgres.
func (d *Dependencies) MemoryStore() *memory.Store {
	return d.memoryStore
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// logPublisher заменяет брокер, когда Kafka не настроена: событие только пишется в лог.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	if event.ID == "" {
		return errors.New("outbox event without id")
	}
	p.logger.WithFields(log.Fields{
		"event_id":     event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Debug("outbox event published to log")
	return nil
}
