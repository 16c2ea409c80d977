package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

const (
	// DefaultMetricNamespace: пространство имён метрик в CloudWatch.
	DefaultMetricNamespace = "PrintMe/Jobs"
	deadLetterMetricName   = "DeadLetteredJobs"
)

// DeadLetterMetrics публикует в CloudWatch счётчик задач, ушедших в DLQ.
type DeadLetterMetrics struct {
	client    CloudWatchAPI
	namespace string
	logger    *log.Entry
}

// NewDeadLetterMetrics создаёт наблюдателя DLQ поверх CloudWatch.
func NewDeadLetterMetrics(client CloudWatchAPI, namespace string, logger *log.Entry) *DeadLetterMetrics {
	if namespace == "" {
		namespace = DefaultMetricNamespace
	}
	if logger == nil {
		logger = log.WithField("component", "cloudwatch-dlq-metrics")
	}
	return &DeadLetterMetrics{client: client, namespace: namespace, logger: logger}
}

// OnDeadLetter реализует domain.DeadLetterObserver; ошибки только логируются.
func (m *DeadLetterMetrics) OnDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) {
	timestamp := entry.FailedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(deadLetterMetricName),
				Dimensions: []cwtypes.Dimension{
					{Name: sdkaws.String("JobType"), Value: sdkaws.String(string(entry.Job.Type))},
				},
				Timestamp: sdkaws.Time(timestamp),
				Unit:      cwtypes.StandardUnitCount,
				Value:     sdkaws.Float64(1),
			},
		},
	})
	if err != nil {
		m.logger.WithError(err).WithField("job_id", entry.Job.ID).Warn("failed to publish dead-letter metric")
	}
}

var _ domain.DeadLetterObserver = (*DeadLetterMetrics)(nil)
