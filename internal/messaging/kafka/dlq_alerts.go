package kafka

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// JobDeadLetterAlerts публикует оповещения о задачах, ушедших в DLQ.
type JobDeadLetterAlerts struct {
	producer *Producer
	topic    string
	logger   *log.Entry
}

// NewJobDeadLetterAlerts создаёт наблюдателя DLQ поверх Kafka.
func NewJobDeadLetterAlerts(producer *Producer, topic string) *JobDeadLetterAlerts {
	if topic == "" {
		topic = TopicJobsDLQ
	}
	return &JobDeadLetterAlerts{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "kafka-dlq-alerts"),
	}
}

// Publish отправляет оповещение; ключ: id задачи.
func (a *JobDeadLetterAlerts) Publish(entry domain.DeadLetterEntry) error {
	failedAt := entry.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	return a.producer.PublishEvent(a.topic, entry.Job.ID, NewJobDeadLetterAlert(entry),
		header(HeaderEventType, "job.dead_lettered"),
		header(HeaderErrorMessage, entry.LastError),
		header(HeaderFailedAt, failedAt.Format(time.RFC3339)),
	)
}

// OnDeadLetter реализует domain.DeadLetterObserver; сбой публикации только логируется.
func (a *JobDeadLetterAlerts) OnDeadLetter(_ context.Context, entry domain.DeadLetterEntry) {
	if err := a.Publish(entry); err != nil {
		a.logger.WithError(err).WithFields(log.Fields{
			"job_id":   entry.Job.ID,
			"job_type": entry.Job.Type,
		}).Warn("failed to publish dead-letter alert")
	}
}

var _ domain.DeadLetterObserver = (*JobDeadLetterAlerts)(nil)
