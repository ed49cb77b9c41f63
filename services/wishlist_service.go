// services/wishlist_service.go

package services

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/norun9/shopclient/kvstore"
	"github.com/norun9/shopclient/models"
	"github.com/norun9/shopclient/optimistic"
)

// WishlistAPI is the server wishlist. *apiclient.WishlistAPI implements it.
type WishlistAPI interface {
	List(ctx context.Context) ([]models.WishlistItem, error)
	Toggle(ctx context.Context, productID int) (models.ToggleResult, error)
}

type membership map[int]struct{}

func cloneMembership(m membership) membership {
	out := make(membership, len(m))
	for id := range m {
		out[id] = struct{}{}
	}
	return out
}

// persistedWishlist is the blob stored under kvstore.KeyWishlist.
type persistedWishlist struct {
	ProductIDs []int `json:"productIds"`
}

// WishlistService keeps the signed-in user's wishlist membership. Toggles are
// applied locally first and rolled back if the server refuses; every toggle is
// followed by a refetch. Anonymous users cannot use the wishlist.
type WishlistService struct {
	session Authenticator
	api     WishlistAPI
	kv      kvstore.Store
	cache   *optimistic.Cache[membership]
	fetch   singleflight.Group

	log    logrus.FieldLogger
	tracer trace.Tracer
}

// NewWishlistService constructor.
func NewWishlistService(session Authenticator, api WishlistAPI, kv kvstore.Store, log logrus.FieldLogger) *WishlistService {
	if kv == nil {
		kv = kvstore.NoopStore{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WishlistService{
		session: session,
		api:     api,
		kv:      kv,
		cache:   optimistic.NewCache(cloneMembership),
		log:     log,
		tracer:  otel.Tracer("wishlistservice"),
	}
}

// Initialize loads the persisted membership for display. It is marked stale so
// the first read after sign-in refetches it.
func (s *WishlistService) Initialize(ctx context.Context) {
	raw, found, err := s.kv.Get(ctx, kvstore.KeyWishlist)
	if err != nil {
		s.log.WithError(err).Warn("failed to read wishlist")
		return
	}
	if !found {
		return
	}
	var p persistedWishlist
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.WithError(err).Warn("wishlist blob is corrupt, ignoring it")
		return
	}
	m := make(membership, len(p.ProductIDs))
	for _, id := range p.ProductIDs {
		m[id] = struct{}{}
	}
	s.cache.Set(m)
	s.cache.Invalidate()
}

// Contains reports whether productID is in the cached membership.
func (s *WishlistService) Contains(productID int) bool {
	m, _ := s.cache.Get()
	_, ok := m[productID]
	return ok
}

// ProductIDs returns the cached membership, sorted.
func (s *WishlistService) ProductIDs() []int {
	m, _ := s.cache.Get()
	return sortedIDs(m)
}

// List returns the membership, refetching it when stale.
func (s *WishlistService) List(ctx context.Context) ([]int, error) {
	if !s.session.IsAuthenticated() {
		return nil, ErrAuthRequired
	}
	if s.cache.Fresh() {
		return s.ProductIDs(), nil
	}
	if err := s.Refetch(ctx); err != nil {
		return s.ProductIDs(), err
	}
	return s.ProductIDs(), nil
}

// Refetch replaces the membership with the server's.
func (s *WishlistService) Refetch(ctx context.Context) error {
	if !s.session.IsAuthenticated() {
		return ErrAuthRequired
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.fetch.DoChan("wishlist", func() (interface{}, error) {
		version := s.cache.Version()
		items, err := s.api.List(fetchCtx)
		if err != nil {
			return nil, err
		}
		m := make(membership, len(items))
		for _, it := range items {
			m[it.ProductID] = struct{}{}
		}
		if s.cache.CompareAndSet(m, version) {
			s.persist(fetchCtx, m)
		}
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return fail(ErrFetchFailed, "Refetch", ctx.Err())
	case res := <-ch:
		return fail(ErrFetchFailed, "Refetch", res.Err)
	}
}

// Toggle flips productID in or out of the wishlist and reports whether it is
// now in. Anonymous callers get ErrAuthRequired and nothing is stored.
func (s *WishlistService) Toggle(ctx context.Context, productID int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "Toggle", trace.WithAttributes(attribute.Int("product.id", productID)))
	defer span.End()

	if !s.session.IsAuthenticated() {
		return false, ErrAuthRequired
	}
	s.log.WithField("product_id", productID).Debug("[Toggle] received request")

	var res models.ToggleResult
	err := optimistic.Mutate(ctx, s.cache,
		func(m membership) membership {
			if _, ok := m[productID]; ok {
				delete(m, productID)
			} else {
				m[productID] = struct{}{}
			}
			return m
		},
		func(ctx context.Context) error {
			var err error
			res, err = s.api.Toggle(ctx, productID)
			return err
		},
	)

	s.cache.Invalidate()
	if ferr := s.Refetch(ctx); ferr != nil {
		s.log.WithError(ferr).Debug("[Toggle] refetch after toggle failed")
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "toggle")
		s.log.WithError(err).Warn("[Toggle] rejected")
		return s.Contains(productID), fail(ErrMutationFailed, "Toggle", err)
	}
	s.log.WithField("added", res.Added).Debug("[Toggle] completed request")
	return res.Added, nil
}

// OnLogout forgets the membership, in memory and on the device.
func (s *WishlistService) OnLogout(ctx context.Context) {
	s.cache.Reset()
	if err := s.kv.Remove(ctx, kvstore.KeyWishlist); err != nil {
		s.log.WithError(err).Warn("failed to remove wishlist")
	}
}

func (s *WishlistService) persist(ctx context.Context, m membership) {
	data, err := json.Marshal(persistedWishlist{ProductIDs: sortedIDs(m)})
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, kvstore.KeyWishlist, string(data)); err != nil {
		s.log.WithError(err).Warn("failed to persist wishlist")
	}
}

func sortedIDs(m membership) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
