package memory

import (
	"context"

	"github.com/vladislavdragonenkov/printme/internal/domain"
)

type addressRepository struct {
	view
}

func (r *addressRepository) Create(_ context.Context, address domain.Address) error {
	r.write(func() {
		r.store.addresses[address.ID] = address
		r.onRollback(func() {
			delete(r.store.addresses, address.ID)
		})
	})
	return nil
}

func (r *addressRepository) Get(_ context.Context, id string) (domain.Address, error) {
	var (
		address domain.Address
		ok      bool
	)
	r.read(func() {
		address, ok = r.store.addresses[id]
	})
	if !ok {
		return domain.Address{}, domain.ErrAddressNotFound
	}
	return address, nil
}

var _ domain.AddressRepository = (*addressRepository)(nil)
