// Package history tracks the products a shopper looked at recently.
package history

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/norun9/shopclient/kvstore"
)

// MaxRecentlyViewed caps the list.
const MaxRecentlyViewed = 10

type persisted struct {
	ProductIDs []int `json:"productIds"`
}

// RecentlyViewed is a most-recent-first list of product ids without
// duplicates, kept on the device.
type RecentlyViewed struct {
	mu  sync.RWMutex
	ids []int

	kv  kvstore.Store
	log logrus.FieldLogger
}

// NewRecentlyViewed constructor
func NewRecentlyViewed(kv kvstore.Store, log logrus.FieldLogger) *RecentlyViewed {
	if kv == nil {
		kv = kvstore.NoopStore{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RecentlyViewed{kv: kv, log: log}
}

// Initialize loads the stored list; a bad blob means an empty list.
func (r *RecentlyViewed) Initialize(ctx context.Context) {
	raw, found, err := r.kv.Get(ctx, kvstore.KeyRecentlyViewed)
	if err != nil {
		r.log.WithError(err).Warn("failed to read recently viewed products")
		return
	}
	if !found {
		return
	}
	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		r.log.WithError(err).Warn("recently viewed blob is corrupt, ignoring it")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = nil
	seen := make(map[int]bool, len(p.ProductIDs))
	for _, id := range p.ProductIDs {
		if seen[id] || len(r.ids) == MaxRecentlyViewed {
			continue
		}
		seen[id] = true
		r.ids = append(r.ids, id)
	}
}

// Add records a view of productID.
func (r *RecentlyViewed) Add(ctx context.Context, productID int) {
	r.mu.Lock()
	r.ids = push(r.ids, productID)
	data, err := json.Marshal(persisted{ProductIDs: r.ids})
	r.mu.Unlock()

	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, kvstore.KeyRecentlyViewed, string(data)); err != nil {
		r.log.WithError(err).Warn("failed to persist recently viewed products")
	}
}

// ProductIDs returns the list, most recent first.
func (r *RecentlyViewed) ProductIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.ids...)
}

func push(ids []int, id int) []int {
	next := make([]int, 0, MaxRecentlyViewed)
	next = append(next, id)
	for _, x := range ids {
		if x != id && len(next) < MaxRecentlyViewed {
			next = append(next, x)
		}
	}
	return next
}
