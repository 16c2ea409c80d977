package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Handler выполняет задачу одного типа.
type Handler interface {
	Handle(ctx context.Context, job domain.Job) error
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, job domain.Job) error

// Handle реализует Handler.
func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

// Registry сопоставляет типы задач с обработчиками.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobType]Handler)}
}

// Register привязывает обработчик к типу. Неизвестные типы и повторная регистрация отклоняются.
func (r *Registry) Register(jobType domain.JobType, handler Handler) error {
	if !jobType.Valid() {
		return domain.WrapError(domain.KindValidation, domain.ErrUnknownJobType, "register %q", jobType)
	}
	if handler == nil {
		return fmt.Errorf("register %s: nil handler", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register %s: handler already registered", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// Lookup возвращает обработчик типа.
func (r *Registry) Lookup(jobType domain.JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[jobType]
	return handler, ok
}
