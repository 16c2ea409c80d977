package memory

import (
	"context"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

// stockLedger: складской реестр поверх общего мьютекса Store.
type stockLedger struct {
	view
}

func (l *stockLedger) Get(_ context.Context, variantID string) (domain.Variant, error) {
	var (
		variant domain.Variant
		ok      bool
	)
	l.read(func() {
		variant, ok = l.store.variants[variantID]
	})
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// CheckAvailable проверяет вариант без изменения остатка.
func (l *stockLedger) CheckAvailable(ctx context.Context, variantID string, qty int32) (domain.Variant, error) {
	variant, err := l.Get(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}
	if err := variant.CheckAvailability(qty); err != nil {
		return domain.Variant{}, err
	}
	return variant, nil
}

// Decrement списывает остаток; чтение и запись идут под одной блокировкой.
func (l *stockLedger) Decrement(_ context.Context, variantID string, qty int32) error {
	if qty <= 0 {
		return domain.ErrItemQtyInvalid
	}
	var err error
	l.write(func() {
		variant, ok := l.store.variants[variantID]
		if !ok {
			err = domain.ErrVariantNotFound
			return
		}
		if variant.Stock < qty {
			err = &domain.InsufficientStockError{VariantID: variantID, Requested: qty, Available: variant.Stock}
			return
		}
		previous := variant
		variant.Stock -= qty
		l.store.variants[variantID] = variant
		l.onRollback(func() {
			l.store.variants[variantID] = previous
		})
	})
	return err
}

// Upsert добавляет или заменяет вариант; используется каталогом и тестами.
func (s *Store) Upsert(variant domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variant.ID] = variant
}

var _ domain.StockLedger = (*stockLedger)(nil)
