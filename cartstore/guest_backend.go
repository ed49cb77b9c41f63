// cartstore/guest_backend.go

package cartstore

import (
	"context"

	"github.com/norun9/shopclient/models"
)

// GuestBackend serves the cart from the GuestCartStore. It never touches the
// network and fails only on invalid input.
type GuestBackend struct {
	store *GuestCartStore
}

// NewGuestBackend constructor
func NewGuestBackend(store *GuestCartStore) *GuestBackend {
	return &GuestBackend{store: store}
}

func (b *GuestBackend) Read(ctx context.Context) ([]models.CartLine, error) {
	return b.store.Lines(), nil
}

// Add prepends a new guest line. Adding a product already in the cart moves
// its line to the front with the quantities combined, so the merge payload
// carries one entry per product. Quantities below 1 are rejected.
func (b *GuestBackend) Add(ctx context.Context, req models.AddRequest) error {
	if req.Quantity < 1 {
		return ErrInvalidQuantity
	}
	for _, l := range b.store.Lines() {
		if l.ProductID == req.ProductID {
			b.store.AddItem(ctx, l.WithQuantity(l.Quantity+req.Quantity))
			return nil
		}
	}
	b.store.AddItem(ctx, req.GuestLine())
	return nil
}

func (b *GuestBackend) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	b.store.UpdateQuantity(ctx, lineID, quantity)
	return nil
}

func (b *GuestBackend) Remove(ctx context.Context, lineID string) error {
	b.store.RemoveItem(ctx, lineID)
	return nil
}

func (b *GuestBackend) Clear(ctx context.Context) error {
	b.store.Clear(ctx)
	return nil
}
