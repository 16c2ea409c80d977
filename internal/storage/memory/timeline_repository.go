package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// timelineRepository хранит события в памяти (для разработки/тестов).
type timelineRepository struct {
	view
}

// Append добавляет событие в хранилище.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	r.write(func() {
		previous := r.store.timeline[event.OrderID]
		events := append(slices.Clone(previous), event)
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Occurred.Before(events[j].Occurred)
		})
		r.store.timeline[event.OrderID] = events
		r.onRollback(func() {
			r.store.timeline[event.OrderID] = previous
		})
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var result []domain.TimelineEvent
	r.read(func() {
		result = slices.Clone(r.store.timeline[orderID])
	})
	if result == nil {
		result = []domain.TimelineEvent{}
	}
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
