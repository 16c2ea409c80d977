package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	updatedAt  time.Time
}

// OutboxRepository: in-memory хранилище transactional outbox поверх Store.
type OutboxRepository struct {
	view
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	r.write(func() {
		now := r.store.now()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		r.store.outboxSeq++
		r.store.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			seq:       r.store.outboxSeq,
			status:    outboxStatusPending,
			updatedAt: now,
		}
		r.onRollback(func() {
			delete(r.store.outbox, msg.ID)
		})
	})
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*outboxRecord
	r.read(func() {
		for _, rec := range r.store.outbox {
			if rec.status == outboxStatusPending {
				records = append(records, rec)
			}
		}
	})
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	if len(records) > limit {
		records = records[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	r.read(func() {
		for _, rec := range r.store.outbox {
			if rec.status != outboxStatusPending {
				continue
			}
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		}
	})
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *OutboxRepository) mark(id, status string) error {
	var err error
	r.write(func() {
		record, ok := r.store.outbox[id]
		if !ok {
			err = domain.ErrOutboxPublish
			return
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = r.store.now()
	})
	return err
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	pending, _ := r.PullPending(context.Background(), math.MaxInt)
	return pending
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
