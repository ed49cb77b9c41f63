// services/cart_service.go

package services

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/norun9/shopclient/cartstore"
	"github.com/norun9/shopclient/models"
)

// Authenticator reports whether the session is signed in.
type Authenticator interface {
	IsAuthenticated() bool
}

// CartService presents one cart whatever the sign-in state: the server cart
// when authenticated, the guest cart otherwise.
type CartService struct {
	session Authenticator
	guest   *cartstore.GuestCartStore
	local   *cartstore.GuestBackend
	server  *cartstore.ServerBackend

	mergeMu sync.Mutex

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// NewCartService constructor.
func NewCartService(session Authenticator, guest *cartstore.GuestCartStore, server *cartstore.ServerBackend, log logrus.FieldLogger) *CartService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CartService{
		session: session,
		guest:   guest,
		local:   cartstore.NewGuestBackend(guest),
		server:  server,
		log:     log,
		tracer:  otel.Tracer("cartservice"),
	}
}

// backend picks the cart for this call.
func (s *CartService) backend() (cartstore.ICartBackend, cartstore.Mode) {
	if s.session.IsAuthenticated() {
		return s.server, cartstore.ModeServer
	}
	return s.local, cartstore.ModeGuest
}

// Mode reports which cart the next call will use.
func (s *CartService) Mode() cartstore.Mode {
	_, mode := s.backend()
	return mode
}

// Items returns the cart lines. When a server fetch fails, the last good lines
// are returned together with an error matching ErrFetchFailed.
func (s *CartService) Items(ctx context.Context) ([]models.CartLine, error) {
	b, mode := s.backend()
	ctx, span := s.tracer.Start(ctx, "Items", trace.WithAttributes(attribute.String("cart.mode", string(mode))))
	defer span.End()

	lines, err := b.Read(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch")
		s.log.WithError(err).Warn("[Items] failed to fetch cart")
		lastGood, _ := s.server.Cached()
		return lastGood, fail(ErrFetchFailed, "Items", err)
	}
	span.SetAttributes(attribute.Int("cart.lines", len(lines)))
	return lines, nil
}

// Total sums the line subtotals of the current cart.
func (s *CartService) Total(ctx context.Context) (decimal.Decimal, error) {
	lines, err := s.Items(ctx)
	return models.Total(lines), err
}

// Count sums the quantities of the current cart.
func (s *CartService) Count(ctx context.Context) (int, error) {
	lines, err := s.Items(ctx)
	return models.Count(lines), err
}

// Add puts a product in the cart. A quantity below 1 is rejected with
// cartstore.ErrInvalidQuantity before either cart is touched.
func (s *CartService) Add(ctx context.Context, req models.AddRequest) error {
	if req.Quantity < 1 {
		return errors.Wrapf(cartstore.ErrInvalidQuantity, "add product %d", req.ProductID)
	}
	return s.mutate(ctx, "Add", func(ctx context.Context, b cartstore.ICartBackend) error {
		return b.Add(ctx, req)
	}, attribute.Int("product.id", req.ProductID), attribute.Int("quantity", req.Quantity))
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	return s.mutate(ctx, "UpdateQuantity", func(ctx context.Context, b cartstore.ICartBackend) error {
		return b.UpdateQuantity(ctx, lineID, quantity)
	}, attribute.String("line.id", lineID), attribute.Int("quantity", quantity))
}

// Remove drops a line.
func (s *CartService) Remove(ctx context.Context, lineID string) error {
	return s.mutate(ctx, "Remove", func(ctx context.Context, b cartstore.ICartBackend) error {
		return b.Remove(ctx, lineID)
	}, attribute.String("line.id", lineID))
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context) error {
	return s.mutate(ctx, "Clear", func(ctx context.Context, b cartstore.ICartBackend) error {
		return b.Clear(ctx)
	})
}

func (s *CartService) mutate(ctx context.Context, op string, fn func(context.Context, cartstore.ICartBackend) error, attrs ...attribute.KeyValue) error {
	b, mode := s.backend()
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(append(attrs, attribute.String("cart.mode", string(mode)))...))
	defer span.End()

	log := s.log.WithField("mode", mode)
	log.Debugf("[%s] received request", op)

	if err := fn(ctx, b); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mutation")
		log.WithError(err).Warnf("[%s] rejected", op)
		return fail(ErrMutationFailed, op, err)
	}
	log.Debugf("[%s] completed request", op)
	return nil
}

// MergeGuestCart moves the guest cart into the server cart once, right after a
// sign-in. An empty guest cart makes no call. On failure the guest cart is
// left untouched and ErrMergeFailed is returned.
func (s *CartService) MergeGuestCart(ctx context.Context) error {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "MergeGuestCart")
	defer span.End()

	lines := s.guest.Lines()
	span.SetAttributes(attribute.Int("cart.guest_lines", len(lines)))
	if len(lines) == 0 {
		return nil
	}

	s.log.WithField("lines", len(lines)).Info("[MergeGuestCart] merging guest cart")
	if err := s.server.Merge(ctx, lines); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge")
		s.log.WithError(err).Warn("[MergeGuestCart] merge failed, guest cart kept")
		return fail(ErrMergeFailed, "MergeGuestCart", err)
	}
	s.guest.Clear(ctx)

	if _, err := s.server.Refetch(ctx); err != nil {
		s.log.WithError(err).Debug("[MergeGuestCart] refetch after merge failed")
	}
	return nil
}

// GuestLines returns the guest cart regardless of sign-in state.
func (s *CartService) GuestLines() []models.CartLine {
	return s.guest.Lines()
}

// ClearGuest empties the guest cart.
func (s *CartService) ClearGuest(ctx context.Context) {
	s.guest.Clear(ctx)
}

// OnLogout drops the cached server cart.
func (s *CartService) OnLogout(ctx context.Context) {
	s.server.Reset()
}
