package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/app"
)

var startLambda = func(handler any) { lambda.Start(handler) }

func main() {
	if err := run(context.Background(), os.Getenv); err != nil {
		log.WithError(err).Fatal("lambda воркера не запустилась")
	}
}

// run собирает зависимости и отдаёт пачки SQS диспетчеру. Очередь задаётся
// триггером функции, поэтому допустим только бэкенд sqs.
func run(ctx context.Context, getenv func(string) string) error {
	cfg, err := app.ConfigFromEnv(getenv)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if cfg.QueueBackend != app.QueueBackendSQS {
		return fmt.Errorf("worker lambda requires QUEUE_BACKEND=%s, got %s", app.QueueBackendSQS, cfg.QueueBackend)
	}
	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return err
	}

	logger := log.WithField("component", "worker-lambda")
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	logger.WithField("queue_url", cfg.SQSQueueURL).Info("запускаем обработчик SQS")
	startLambda(app.NewSQSBatchHandler(deps.Dispatcher, logger))
	return nil
}
