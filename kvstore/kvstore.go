// Package kvstore is the durable client-side key/value storage used to carry
// the guest cart, wishlist membership and last-known user profile across restarts.
package kvstore

import (
	"context"

	"github.com/pkg/errors"
)

// Namespaced keys. Each blob is read independently; a corrupt value under one
// key never affects the others.
const (
	KeyGuestCart      = "shopgo-guest-cart"
	KeyAuth           = "shopgo-auth"
	KeyWishlist       = "shopgo-wishlist"
	KeyRecentlyViewed = "shopgo-recently-viewed"
)

// ErrStorage wraps every failure reported by a backing store. Callers degrade
// to in-memory behavior when they see it.
var ErrStorage = errors.New("kvstore: storage error")

// Store is an interface for string blob storage.
type Store interface {
	Initialize(ctx context.Context) error

	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	Ping(ctx context.Context) bool
}

func storageErr(err error, format string, args ...interface{}) error {
	return errors.Wrapf(&wrapped{cause: err}, format, args...)
}

// wrapped lets storage failures match ErrStorage while keeping the cause.
type wrapped struct {
	cause error
}

func (w *wrapped) Error() string        { return ErrStorage.Error() + ": " + w.cause.Error() }
func (w *wrapped) Is(target error) bool { return target == ErrStorage }
func (w *wrapped) Unwrap() error        { return w.cause }
