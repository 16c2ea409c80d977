package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/app"
)

var runWorker = app.RunWorker

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("воркер завершился с ошибкой")
	}
	log.Info("воркер остановлен")
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
		"grpc_addr":     cfg.GRPCAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"queue_backend": cfg.QueueBackend,
		"concurrency":   cfg.DispatcherConcurrency,
		"kafka_enabled": cfg.KafkaEnabled(),
	}).Info("запускаем воркер")

	return runWorker(ctx, cfg)
}
