// Package memqueue: однопроцессная очередь задач: FIFO, мгновенная видимость, сигнал о новых задачах.
// Несколько диспетчеров на одной очереди без внешней координации не поддерживаются.
package memqueue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Options задаёт параметры очереди.
type Options struct {
	Logger   *log.Entry
	Observer domain.DeadLetterObserver
	Now      func() time.Time
}

// Option настраивает Queue.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithDeadLetterObserver подключает наблюдателя за DLQ.
func WithDeadLetterObserver(observer domain.DeadLetterObserver) Option {
	return func(o *Options) { o.Observer = observer }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Queue: in-memory реализация domain.JobQueue.
type Queue struct {
	mu       sync.Mutex
	pending  []domain.Job
	inflight map[string]domain.Job
	dead     []domain.DeadLetterEntry

	notify   chan struct{}
	observer domain.DeadLetterObserver
	logger   *log.Entry
	now      func() time.Time
}

// New создаёт пустую очередь.
func New(opts ...Option) *Queue {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = log.WithField("component", "memory-queue")
	}
	if options.Now == nil {
		options.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Queue{
		inflight: make(map[string]domain.Job),
		notify:   make(chan struct{}, 1),
		observer: options.Observer,
		logger:   options.Logger,
		now:      options.Now,
	}
}

// Enqueue добавляет задачу в конец очереди и сигналит подписчику.
func (q *Queue) Enqueue(_ context.Context, jobType domain.JobType, payload any, opts ...domain.EnqueueOption) (domain.Job, error) {
	job, err := domain.NewJob(uuid.NewString(), jobType, payload, q.now(), opts...)
	if err != nil {
		return domain.Job{}, err
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	q.signal()
	q.logger.WithFields(log.Fields{"job_id": job.ID, "job_type": job.Type}).Debug("job enqueued")
	return job, nil
}

// Poll забирает первую задачу; задача остаётся «в работе» до Ack или Nack.
func (q *Queue) Poll(_ context.Context) (domain.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.Job{}, false, nil
	}
	job := q.pending[0]
	q.pending[0] = domain.Job{}
	q.pending = q.pending[1:]
	q.inflight[job.ID] = job
	return job, true, nil
}

// Ack удаляет задачу; повторный Ack ничего не делает.
func (q *Queue) Ack(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, job.ID)
	return nil
}

// Release возвращает задачу из работы в конец очереди, не увеличивая Retries.
// Сигнал не отправляется: задачу заберёт следующий Poll.
func (q *Queue) Release(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.inflight[job.ID]
	if !ok {
		return nil
	}
	delete(q.inflight, job.ID)
	q.pending = append(q.pending, current)
	return nil
}

// Nack возвращает задачу в конец очереди или переносит её в DLQ.
// Задача, которая уже не в работе, игнорируется, чтобы не считать попытку дважды.
func (q *Queue) Nack(ctx context.Context, job domain.Job, cause error) error {
	q.mu.Lock()
	current, ok := q.inflight[job.ID]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	delete(q.inflight, job.ID)

	current.Retries++
	if !current.Exhausted() {
		q.pending = append(q.pending, current)
		q.mu.Unlock()
		q.signal()
		return nil
	}

	entry := domain.NewDeadLetterEntry(current, cause, q.now())
	q.dead = append(q.dead, entry)
	q.mu.Unlock()

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

// DeadLetters возвращает копию DLQ.
func (q *Queue) DeadLetters(_ context.Context) ([]domain.DeadLetterEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.dead) == 0 {
		return []domain.DeadLetterEntry{}, nil
	}
	return slices.Clone(q.dead), nil
}

// Notifications возвращает канал сигналов о появлении задач.
func (q *Queue) Notifications() <-chan struct{} {
	return q.notify
}

// Len возвращает число задач, ожидающих Poll.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight возвращает число выданных, но не подтверждённых задач.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

var (
	_ domain.JobQueue    = (*Queue)(nil)
	_ domain.JobNotifier = (*Queue)(nil)
	_ domain.JobReleaser = (*Queue)(nil)
)
