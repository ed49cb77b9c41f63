// cartstore/server_backend.go

package cartstore

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/norun9/shopclient/models"
	"github.com/norun9/shopclient/optimistic"
)

// CartAPI is the server cart as the ServerBackend needs it. *apiclient.CartAPI
// implements it.
type CartAPI interface {
	List(ctx context.Context) ([]models.CartLine, error)
	Add(ctx context.Context, productID, quantity int) (models.CartLine, error)
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	Remove(ctx context.Context, lineID string) error
	Clear(ctx context.Context) error
	Merge(ctx context.Context, items []models.CartItemRequest) error
}

// ServerBackend mirrors the signed-in user's server cart. Quantity changes and
// removals are applied to the cached copy before the server answers and rolled
// back if it refuses. Every mutation then invalidates the cache and refetches.
type ServerBackend struct {
	api   CartAPI
	cache *optimistic.Cache[[]models.CartLine]
	fetch singleflight.Group
	log   logrus.FieldLogger
}

// NewServerBackend constructor
func NewServerBackend(api CartAPI, log logrus.FieldLogger) *ServerBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ServerBackend{
		api:   api,
		cache: optimistic.NewCache(models.CloneLines),
		log:   log,
	}
}

// Read returns the cached cart, fetching it first when the cache is stale. If
// the fetch fails the cache keeps its last good value, still available from
// Cached.
func (b *ServerBackend) Read(ctx context.Context) ([]models.CartLine, error) {
	if b.cache.Fresh() {
		lines, _ := b.cache.Get()
		return lines, nil
	}
	return b.Refetch(ctx)
}

// Cached returns the cached cart without any network call.
func (b *ServerBackend) Cached() ([]models.CartLine, bool) {
	return b.cache.Get()
}

// Refetch loads the cart from the server. Concurrent refetches share one call,
// which runs detached from any single caller: a caller that gives up stops
// waiting without failing the others.
func (b *ServerBackend) Refetch(ctx context.Context) ([]models.CartLine, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := b.fetch.DoChan("cart", func() (interface{}, error) {
		version := b.cache.Version()
		lines, err := b.api.List(fetchCtx)
		if err != nil {
			return nil, err
		}
		if !b.cache.CompareAndSet(lines, version) {
			b.log.Debug("cart changed while fetching, keeping newer local state")
		}
		return lines, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return models.CloneLines(res.Val.([]models.CartLine)), nil
	}
}

func (b *ServerBackend) Add(ctx context.Context, req models.AddRequest) error {
	_, err := b.api.Add(ctx, req.ProductID, req.Quantity)
	b.settle(ctx)
	return err
}

// UpdateQuantity changes a line's quantity optimistically. A quantity of zero
// or less removes the line, as in guest mode.
func (b *ServerBackend) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return b.Remove(ctx, lineID)
	}
	err := optimistic.Mutate(ctx, b.cache,
		func(lines []models.CartLine) []models.CartLine {
			for i, l := range lines {
				if l.ID == lineID {
					lines[i] = l.WithQuantity(quantity)
				}
			}
			return lines
		},
		func(ctx context.Context) error {
			return b.api.UpdateQuantity(ctx, lineID, quantity)
		},
	)
	b.settle(ctx)
	return err
}

// Remove drops a line optimistically.
func (b *ServerBackend) Remove(ctx context.Context, lineID string) error {
	err := optimistic.Mutate(ctx, b.cache,
		func(lines []models.CartLine) []models.CartLine {
			out := lines[:0]
			for _, l := range lines {
				if l.ID != lineID {
					out = append(out, l)
				}
			}
			return out
		},
		func(ctx context.Context) error {
			return b.api.Remove(ctx, lineID)
		},
	)
	b.settle(ctx)
	return err
}

func (b *ServerBackend) Clear(ctx context.Context) error {
	err := b.api.Clear(ctx)
	b.settle(ctx)
	return err
}

// Merge folds guest lines into the server cart. Only product ids and
// quantities are sent.
func (b *ServerBackend) Merge(ctx context.Context, lines []models.CartLine) error {
	err := b.api.Merge(ctx, models.MergePayload(lines))
	b.cache.Invalidate()
	return err
}

// Reset forgets the cached cart.
func (b *ServerBackend) Reset() {
	b.cache.Reset()
}

// settle reconciles the cache with the server after a mutation, whatever its
// outcome. A failed refetch leaves the cache stale for the next read.
func (b *ServerBackend) settle(ctx context.Context) {
	b.cache.Invalidate()
	if _, err := b.Refetch(ctx); err != nil {
		b.log.WithError(err).Debug("cart refetch after mutation failed")
	}
}
