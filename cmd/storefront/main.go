package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/app"
)

var (
	runServer   = app.RunStorefront
	startLambda = func(handler any) { lambda.Start(handler) }
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("витрина завершилась с ошибкой")
	}
	log.Info("витрина остановлена")
}

func run(ctx context.Context, getenv func(string) string) error {
	cfg, err := app.ConfigFromEnv(getenv)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := app.ConfigureLogging(cfg.LogLevel); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"run_mode":       cfg.RunMode,
		"http_addr":      cfg.HTTPAddr,
		"storage_driver": cfg.StorageDriver,
		"queue_backend":  cfg.QueueBackend,
	}).Info("запускаем витрину")

	if cfg.RunMode == app.RunModeLambda {
		return runLambda(ctx, cfg)
	}
	return runServer(ctx, cfg)
}

// runLambda собирает зависимости один раз на холодный старт и отдаёт router в API Gateway.
// Outbox в этом режиме публикует воркер.
func runLambda(ctx context.Context, cfg app.Config) error {
	deps, err := app.NewDependencies(ctx, cfg, log.WithField("component", "storefront-lambda"))
	if err != nil {
		return err
	}
	defer deps.Close()

	startLambda(app.NewAPIGatewayHandler(deps.Router()))
	return nil
}
