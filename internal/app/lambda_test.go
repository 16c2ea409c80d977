package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type recordingDelivery struct {
	jobs []domain.Job
	fail map[string]error
}

func (r *recordingDelivery) HandleDelivery(_ context.Context, job domain.Job) error {
	r.jobs = append(r.jobs, job)
	return r.fail[job.ID]
}

func sqsRecord(t *testing.T, messageID string, job domain.Job) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: messageID, ReceiptHandle: "rh-" + messageID, Body: string(body)}
}

func TestSQSBatchHandler_PartialFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := domain.NewJob("job-ok", domain.JobSendNotification, domain.NotificationPayload{Kind: domain.NotificationOrderConfirmed, OrderID: "o-1"}, now)
	require.NoError(t, err)
	broken, err := domain.NewJob("job-broken", domain.JobSendNotification, domain.NotificationPayload{Kind: domain.NotificationOrderShipped, OrderID: "o-2"}, now)
	require.NoError(t, err)

	delivery := &recordingDelivery{fail: map[string]error{"job-broken": errors.New("ack failed")}}
	handler := NewSQSBatchHandler(delivery, nil)

	resp, err := handler(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, "m-1", ok),
		sqsRecord(t, "m-2", broken),
		{MessageId: "m-3", Body: "not json"},
	}})
	require.NoError(t, err)

	require.Len(t, delivery.jobs, 2)
	require.Equal(t, "rh-m-1", delivery.jobs[0].Receipt)
	require.Equal(t, domain.JobSendNotification, delivery.jobs[0].Type)

	failed := make([]string, 0, len(resp.BatchItemFailures))
	for _, f := range resp.BatchItemFailures {
		failed = append(failed, f.ItemIdentifier)
	}
	require.Equal(t, []string{"m-2", "m-3"}, failed)
}

func TestSQSBatchHandler_EmptyBatch(t *testing.T) {
	handler := NewSQSBatchHandler(&recordingDelivery{}, nil)

	resp, err := handler(context.Background(), events.SQSEvent{})
	require.NoError(t, err)
	require.Empty(t, resp.BatchItemFailures)
}

func TestAPIGatewayHandler_ProxiesToRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDependencies(t)
	handler := NewAPIGatewayHandler(deps.Router())

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/livez",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/api/orders",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
