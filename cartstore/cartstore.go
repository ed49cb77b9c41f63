// cartstore/cartstore.go

// Package cartstore holds the two places a cart can live: the guest cart kept
// on the device, and the cached mirror of the signed-in user's server cart.
package cartstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/norun9/shopclient/models"
)

// ErrInvalidQuantity rejects an add whose quantity is below 1.
var ErrInvalidQuantity = errors.New("cartstore: quantity must be at least 1")

// ICartBackend is the capability set every cart mode provides. The sync engine
// picks one implementation per call from the session state.
type ICartBackend interface {
	Read(ctx context.Context) ([]models.CartLine, error)

	Add(ctx context.Context, req models.AddRequest) error
	UpdateQuantity(ctx context.Context, lineID string, quantity int) error
	Remove(ctx context.Context, lineID string) error
	Clear(ctx context.Context) error
}

// Mode names a backend for logs and spans.
type Mode string

const (
	ModeGuest  Mode = "guest"
	ModeServer Mode = "server"
)
