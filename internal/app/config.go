package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// StorageDriver: реализация хранилища заказов.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// QueueBackend: реализация очереди задач.
type QueueBackend string

const (
	QueueBackendMemory   QueueBackend = "memory"
	QueueBackendPostgres QueueBackend = "postgres"
	QueueBackendSQS      QueueBackend = "sqs"
)

// RunMode: способ запуска витрины.
type RunMode string

const (
	RunModeServer RunMode = "server"
	RunModeLambda RunMode = "lambda"
)

// Config описывает настройки процессов витрины и воркера.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string
	RunMode     RunMode

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemoCatalogue   bool

	QueueBackend QueueBackend
	SQSQueueURL  string
	DLQTable     string
	AWSRegion    string

	KafkaBrokers       []string
	KafkaPaymentTopic  string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	DispatcherConcurrency int
	DispatcherPollBackoff time.Duration

	RenderOutputDir      string
	PaymentWebhookSecret string
	OTLPEndpoint         string
}

// DefaultConfig возвращает настройки локального запуска: всё в памяти, без Kafka и AWS.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		LogLevel:              "info",
		RunMode:               RunModeServer,
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		SeedDemoCatalogue:     true,
		QueueBackend:          QueueBackendMemory,
		KafkaPaymentTopic:     "printme.payment.events",
		KafkaConsumerGroup:    "printme-worker",
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		DispatcherConcurrency: 1,
		DispatcherPollBackoff: 500 * time.Millisecond,
		RenderOutputDir:       "output/prints",
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.QueueBackend {
	case QueueBackendMemory:
	case QueueBackendPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres queue requires postgres storage"))
		}
	case QueueBackendSQS:
		if strings.TrimSpace(c.SQSQueueURL) == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is required for sqs queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported queue backend %q", c.QueueBackend))
	}

	switch c.RunMode {
	case RunModeServer, RunModeLambda:
	default:
		errs = append(errs, fmt.Errorf("unsupported run mode %q", c.RunMode))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.DispatcherConcurrency < 1 {
		errs = append(errs, errors.New("DISPATCHER_CONCURRENCY must be at least 1"))
	}
	if c.OutboxBatchSize < 1 || c.OutboxMaxAttempts < 1 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox settings must be positive"))
	}
	return errors.Join(errs...)
}

// KafkaEnabled сообщает, заданы ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig и проверяет результат.
func ConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("GRPC_ADDR", &cfg.GRPCAddr)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	if v := strings.TrimSpace(getenv("RUN_MODE")); v != "" {
		cfg.RunMode = RunMode(strings.ToLower(v))
	}

	if v := strings.TrimSpace(getenv("STORAGE_DRIVER")); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(v))
	}
	str("POSTGRES_DSN", &cfg.PostgresDSN)
	boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	boolean("SEED_DEMO_CATALOGUE", &cfg.SeedDemoCatalogue)

	if v := strings.TrimSpace(getenv("QUEUE_BACKEND")); v != "" {
		cfg.QueueBackend = QueueBackend(strings.ToLower(v))
	}
	str("SQS_QUEUE_URL", &cfg.SQSQueueURL)
	str("DLQ_TABLE", &cfg.DLQTable)
	str("AWS_REGION", &cfg.AWSRegion)

	cfg.KafkaBrokers = splitList(getenv("KAFKA_BROKERS"))
	str("KAFKA_PAYMENT_TOPIC", &cfg.KafkaPaymentTopic)
	str("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)

	duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)

	integer("DISPATCHER_CONCURRENCY", &cfg.DispatcherConcurrency)
	duration("DISPATCHER_POLL_BACKOFF", &cfg.DispatcherPollBackoff)

	str("RENDER_OUTPUT_DIR", &cfg.RenderOutputDir)
	str("PAYMENT_WEBHOOK_SECRET", &cfg.PaymentWebhookSecret)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// ConfigureLogging настраивает формат и уровень logrus.
func ConfigureLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		return err
	}
	log.SetLevel(parsed)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
