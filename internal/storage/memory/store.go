package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// Store: in-memory хранилище для локальной разработки и тестов.
// Все репозитории делят один мьютекс, поэтому Do даёт настоящую атомарность в пределах процесса.
type Store struct {
	mu sync.RWMutex

	orders    map[string]domain.Order
	orderKeys map[string]string
	addresses map[string]domain.Address
	variants  map[string]domain.Variant
	timeline  map[string][]domain.TimelineEvent
	outbox    map[string]*outboxRecord
	outboxSeq int64

	now func() time.Time
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithVariants заполняет складской реестр.
func WithVariants(variants ...domain.Variant) StoreOption {
	return func(s *Store) {
		for _, v := range variants {
			s.variants[v.ID] = v
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		orders:    make(map[string]domain.Order),
		orderKeys: make(map[string]string),
		addresses: make(map[string]domain.Address),
		variants:  make(map[string]domain.Variant),
		timeline:  make(map[string][]domain.TimelineEvent),
		outbox:    make(map[string]*outboxRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Orders возвращает репозиторий заказов вне единицы работы.
func (s *Store) Orders() domain.OrderRepository { return &orderRepository{view{store: s}} }

// Addresses возвращает репозиторий адресов вне единицы работы.
func (s *Store) Addresses() domain.AddressRepository { return &addressRepository{view{store: s}} }

// Stock возвращает складской реестр вне единицы работы.
func (s *Store) Stock() domain.StockLedger { return &stockLedger{view{store: s}} }

// Timeline возвращает ленту событий вне единицы работы.
func (s *Store) Timeline() domain.TimelineRepository { return &timelineRepository{view{store: s}} }

// Outbox возвращает outbox вне единицы работы.
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{view{store: s}} }

// Repositories собирает все репозитории вне единицы работы.
func (s *Store) Repositories() domain.Repositories {
	return s.repositories(view{store: s})
}

// Do выполняет fn под эксклюзивной блокировкой; при ошибке или панике изменения откатываются.
// Внутри fn нельзя обращаться к репозиториям, полученным не из аргумента repos.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &undoLog{}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err = fn(ctx, s.repositories(view{store: s, tx: tx})); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) repositories(v view) domain.Repositories {
	return domain.Repositories{
		Orders:    &orderRepository{v},
		Addresses: &addressRepository{v},
		Stock:     &stockLedger{v},
		Timeline:  &timelineRepository{v},
		Outbox:    &OutboxRepository{v},
	}
}

// undoLog копит компенсирующие действия текущей единицы работы.
type undoLog struct {
	undo []func()
}

func (l *undoLog) rollback() {
	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
}

// view: доступ к данным Store либо с собственной блокировкой, либо внутри Do.
type view struct {
	store *Store
	tx    *undoLog
}

func (v view) read(fn func()) {
	if v.tx == nil {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	fn()
}

func (v view) write(fn func()) {
	if v.tx == nil {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	fn()
}

func (v view) onRollback(undo func()) {
	if v.tx != nil {
		v.tx.undo = append(v.tx.undo, undo)
	}
}

var _ domain.UnitOfWork = (*Store)(nil)
