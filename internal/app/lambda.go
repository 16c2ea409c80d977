package app

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
	"github.com/vladislavdragonenkov/printme/internal/queue/sqsqueue"
)

// APIGatewayHandler: обработчик событий API Gateway для lambda.Start.
type APIGatewayHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// NewAPIGatewayHandler проксирует события API Gateway в gin router.
func NewAPIGatewayHandler(router *gin.Engine) APIGatewayHandler {
	adapter := ginadapter.New(router)
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	}
}

// DeliveryHandler обрабатывает одну доставленную задачу.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, job domain.Job) error
}

// SQSBatchHandler: обработчик пачки сообщений SQS с частичными отказами.
type SQSBatchHandler func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error)

// NewSQSBatchHandler передаёт каждое сообщение пачки диспетчеру. Сообщение попадает в
// BatchItemFailures, если его не удалось разобрать или подтвердить; остальные
// удаляются из очереди через Ack/Nack самого диспетчера.
func NewSQSBatchHandler(handler DeliveryHandler, logger *log.Entry) SQSBatchHandler {
	if logger == nil {
		logger = log.WithField("component", "worker-lambda")
	}
	return func(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
		var response events.SQSEventResponse
		for _, record := range event.Records {
			entry := logger.WithField("message_id", record.MessageId)

			job, err := sqsqueue.DecodeJob(record.Body)
			if err != nil {
				entry.WithError(err).Error("failed to decode sqs message")
				response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				continue
			}
			job.Receipt = record.ReceiptHandle

			if err := handler.HandleDelivery(ctx, job); err != nil {
				entry.WithError(err).WithField("job_id", job.ID).Warn("job delivery failed")
				response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			}
		}
		return response, nil
	}
}
