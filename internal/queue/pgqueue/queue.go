// Package pgqueue: распределённая очередь задач в PostgreSQL.
// Аренда задачи держится через visible_at и lease_token; конкурирующие диспетчеры
// разбирают очередь через FOR UPDATE SKIP LOCKED.
package pgqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

const (
	// DefaultVisibilityTimeout: срок аренды выданной задачи.
	DefaultVisibilityTimeout = 60 * time.Second
	// DefaultWaitTime: сколько Poll ждёт появления задачи.
	DefaultWaitTime = 5 * time.Second
	// DefaultPollInterval: шаг повторной проверки внутри Poll.
	DefaultPollInterval = 500 * time.Millisecond

	opTimeout = 5 * time.Second
)

// Config задаёт параметры очереди.
type Config struct {
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
	PollInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if c.WaitTime < 0 {
		c.WaitTime = 0
	} else if c.WaitTime == 0 {
		c.WaitTime = DefaultWaitTime
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Option настраивает Queue.
type Option func(*Queue)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithDeadLetterObserver подключает наблюдателя за DLQ.
func WithDeadLetterObserver(observer domain.DeadLetterObserver) Option {
	return func(q *Queue) { q.observer = observer }
}

// WithClock подменяет источник времени для createdAt и failedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue реализует domain.JobQueue поверх таблиц jobs и dead_letter_jobs.
type Queue struct {
	db       *sql.DB
	cfg      Config
	observer domain.DeadLetterObserver
	logger   *log.Entry
	now      func() time.Time
}

// New создаёт очередь поверх уже смигрированной базы.
func New(db *sql.DB, cfg Config, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("postgres db is required")
	}
	q := &Queue{
		db:     db,
		cfg:    cfg.withDefaults(),
		logger: log.WithField("component", "postgres-queue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue вставляет задачу, сразу видимую для Poll.
func (q *Queue) Enqueue(ctx context.Context, jobType domain.JobType, payload any, opts ...domain.EnqueueOption) (domain.Job, error) {
	job, err := domain.NewJob(uuid.NewString(), jobType, payload, q.now(), opts...)
	if err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload, retries, max_retries, created_at, visible_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, job.ID, string(job.Type), string(job.Payload), job.Retries, job.MaxRetries, job.CreatedAt); err != nil {
		return domain.Job{}, domain.QueueTransportError("enqueue", err)
	}

	q.logger.WithFields(log.Fields{"job_id": job.ID, "job_type": job.Type}).Debug("job enqueued")
	return job, nil
}

// Poll арендует следующую видимую задачу. Пока задач нет, повторяет попытку каждые
// PollInterval, но не дольше WaitTime. Отмена ctx завершает ожидание без ошибки.
func (q *Queue) Poll(ctx context.Context) (domain.Job, bool, error) {
	deadline := time.Now().Add(q.cfg.WaitTime)
	for {
		job, ok, err := q.lease(ctx)
		if err != nil || ok {
			return job, ok, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Job{}, false, nil
		}
		wait := min(q.cfg.PollInterval, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Job{}, false, nil
		case <-timer.C:
		}
	}
}

func (q *Queue) lease(ctx context.Context) (domain.Job, bool, error) {
	if ctx.Err() != nil {
		return domain.Job{}, false, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	token := uuid.NewString()
	var (
		job     domain.Job
		jobType string
		payload []byte
	)
	err := q.db.QueryRowContext(queryCtx, `
		UPDATE jobs
		SET visible_at = NOW() + make_interval(secs => $1),
		    lease_token = $2
		WHERE id = (
			SELECT id
			FROM jobs
			WHERE visible_at <= NOW()
			ORDER BY visible_at, seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, job_type, payload, retries, max_retries, created_at
	`, q.cfg.VisibilityTimeout.Seconds(), token).Scan(
		&job.ID, &jobType, &payload, &job.Retries, &job.MaxRetries, &job.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, domain.QueueTransportError("poll", err)
	}

	job.Type = domain.JobType(jobType)
	job.Payload = payload
	job.CreatedAt = job.CreatedAt.UTC()
	job.Receipt = token
	return job, true, nil
}

// Ack удаляет задачу по id; повторный Ack ничего не делает.
func (q *Queue) Ack(ctx context.Context, job domain.Job) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); err != nil {
		return domain.QueueTransportError("ack", err)
	}
	return nil
}

// Nack увеличивает retries и возвращает задачу в очередь либо переносит её в dead_letter_jobs.
// Если аренда уже перехвачена другим потребителем (lease_token не совпадает), вызов игнорируется.
func (q *Queue) Nack(ctx context.Context, job domain.Job, cause error) (err error) {
	txCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := q.db.BeginTx(txCtx, nil)
	if err != nil {
		return domain.QueueTransportError("nack", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		current domain.Job
		jobType string
		payload []byte
	)
	err = tx.QueryRowContext(txCtx, `
		SELECT id, job_type, payload, retries, max_retries, created_at
		FROM jobs
		WHERE id = $1
		  AND lease_token = $2
		FOR UPDATE
	`, job.ID, job.Receipt).Scan(
		&current.ID, &jobType, &payload, &current.Retries, &current.MaxRetries, &current.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		_ = tx.Rollback()
		q.logger.WithField("job_id", job.ID).Debug("nack ignored: lease is no longer held")
		return nil
	}
	if err != nil {
		return domain.QueueTransportError("nack", err)
	}
	current.Type = domain.JobType(jobType)
	current.Payload = payload
	current.CreatedAt = current.CreatedAt.UTC()
	current.Retries++

	if !current.Exhausted() {
		if _, err = tx.ExecContext(txCtx, `
			UPDATE jobs
			SET retries = $2,
			    visible_at = NOW(),
			    lease_token = NULL
			WHERE id = $1
		`, current.ID, current.Retries); err != nil {
			return domain.QueueTransportError("nack", err)
		}
		if err = tx.Commit(); err != nil {
			return domain.QueueTransportError("nack", err)
		}
		return nil
	}

	entry := domain.NewDeadLetterEntry(current, cause, q.now())
	if _, err = tx.ExecContext(txCtx, `
		INSERT INTO dead_letter_jobs (job_id, job_type, payload, retries, max_retries, created_at, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING
	`,
		current.ID, string(current.Type), string(current.Payload), current.Retries, current.MaxRetries,
		current.CreatedAt, entry.LastError, entry.FailedAt,
	); err != nil {
		return domain.QueueTransportError("dead-letter", err)
	}
	if _, err = tx.ExecContext(txCtx, `DELETE FROM jobs WHERE id = $1`, current.ID); err != nil {
		return domain.QueueTransportError("dead-letter", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.QueueTransportError("dead-letter", err)
	}

	q.logger.WithFields(log.Fields{
		"job_id":   current.ID,
		"job_type": current.Type,
		"retries":  current.Retries,
	}).WithError(cause).Warn("job moved to dead-letter queue")
	if q.observer != nil {
		q.observer.OnDeadLetter(ctx, entry)
	}
	return nil
}

// DeadLetters возвращает записи DLQ в порядке отказа.
func (q *Queue) DeadLetters(ctx context.Context) ([]domain.DeadLetterEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, `
		SELECT job_id, job_type, payload, retries, max_retries, created_at, last_error, failed_at
		FROM dead_letter_jobs
		ORDER BY failed_at ASC, job_id ASC
	`)
	if err != nil {
		return nil, domain.QueueTransportError("list dead letters", err)
	}
	defer rows.Close()

	entries := make([]domain.DeadLetterEntry, 0)
	for rows.Next() {
		var (
			entry   domain.DeadLetterEntry
			jobType string
			payload []byte
		)
		if err := rows.Scan(
			&entry.Job.ID, &jobType, &payload, &entry.Job.Retries, &entry.Job.MaxRetries,
			&entry.Job.CreatedAt, &entry.LastError, &entry.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entry.Job.Type = domain.JobType(jobType)
		entry.Job.Payload = payload
		entry.Job.CreatedAt = entry.Job.CreatedAt.UTC()
		entry.FailedAt = entry.FailedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.QueueTransportError("list dead letters", err)
	}
	return entries, nil
}

var _ domain.JobQueue = (*Queue)(nil)
