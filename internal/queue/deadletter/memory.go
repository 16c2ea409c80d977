// Package deadletter хранит записи DLQ для распределённых очередей.
package deadletter

import (
	"context"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// MemoryStore: хранилище DLQ в памяти процесса (локальный запуск, тесты).
type MemoryStore struct {
	mu      sync.RWMutex
	entries []domain.DeadLetterEntry
	seen    map[string]struct{}
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]struct{})}
}

// Put сохраняет запись; повторная запись той же задачи игнорируется.
func (s *MemoryStore) Put(_ context.Context, entry domain.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[entry.Job.ID]; ok {
		return nil
	}
	s.seen[entry.Job.ID] = struct{}{}
	s.entries = append(s.entries, entry)
	return nil
}

// List возвращает записи в порядке поступления.
func (s *MemoryStore) List(_ context.Context) ([]domain.DeadLetterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return []domain.DeadLetterEntry{}, nil
	}
	return slices.Clone(s.entries), nil
}

var _ domain.DeadLetterStore = (*MemoryStore)(nil)
