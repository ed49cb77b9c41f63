// cartstore/guest_cartstore.go

package cartstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/norun9/shopclient/kvstore"
	"github.com/norun9/shopclient/models"
)

// GuestCartStore holds the anonymous cart in memory and mirrors every change to
// the device store. Storage failures are logged and otherwise ignored: the
// in-memory cart keeps working.
type GuestCartStore struct {
	mu    sync.RWMutex
	lines []models.CartLine

	kv  kvstore.Store
	log logrus.FieldLogger
}

// NewGuestCartStore constructor
func NewGuestCartStore(kv kvstore.Store, log logrus.FieldLogger) *GuestCartStore {
	if kv == nil {
		kv = kvstore.NoopStore{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GuestCartStore{kv: kv, log: log}
}

// Initialize loads the persisted cart. An unreadable or malformed blob yields
// an empty cart; it never fails.
func (g *GuestCartStore) Initialize(ctx context.Context) error {
	lines := g.read(ctx)

	g.mu.Lock()
	g.lines = lines
	g.mu.Unlock()
	g.log.WithField("lines", len(lines)).Debug("GuestCartStore initialized")
	return nil
}

func (g *GuestCartStore) read(ctx context.Context) []models.CartLine {
	raw, found, err := g.kv.Get(ctx, kvstore.KeyGuestCart)
	if err != nil {
		g.log.WithError(err).Warn("failed to read guest cart, starting empty")
		return nil
	}
	if !found || raw == "" {
		return nil
	}

	var stored []models.CartLine
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		g.log.WithError(err).Warn("guest cart blob is corrupt, starting empty")
		return nil
	}
	lines := make([]models.CartLine, 0, len(stored))
	seen := make(map[string]bool, len(stored))
	for _, l := range stored {
		if l.ID == "" || l.Quantity < 1 || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		lines = append(lines, l.Normalize())
	}
	return lines
}

// Lines returns a copy of the cart, most recently added first.
func (g *GuestCartStore) Lines() []models.CartLine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return models.CloneLines(g.lines)
}

// Len returns the number of lines.
func (g *GuestCartStore) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.lines)
}

// AddItem puts line at the front of the cart. A line with the same id is replaced.
func (g *GuestCartStore) AddItem(ctx context.Context, line models.CartLine) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make([]models.CartLine, 0, len(g.lines)+1)
	next = append(next, line.Normalize())
	for _, l := range g.lines {
		if l.ID != line.ID {
			next = append(next, l)
		}
	}
	g.lines = next
	g.persistLocked(ctx)
}

// RemoveItem drops the line with the given id.
func (g *GuestCartStore) RemoveItem(ctx context.Context, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := make([]models.CartLine, 0, len(g.lines))
	for _, l := range g.lines {
		if l.ID != id {
			next = append(next, l)
		}
	}
	g.lines = next
	g.persistLocked(ctx)
}

// UpdateQuantity sets the quantity of a line. A quantity of zero or less
// removes the line.
func (g *GuestCartStore) UpdateQuantity(ctx context.Context, id string, quantity int) {
	if quantity <= 0 {
		g.RemoveItem(ctx, id)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := models.CloneLines(g.lines)
	for i, l := range next {
		if l.ID == id {
			next[i] = l.WithQuantity(quantity)
		}
	}
	g.lines = next
	g.persistLocked(ctx)
}

// Clear empties the cart and deletes the persisted blob.
func (g *GuestCartStore) Clear(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lines = nil
	g.persistLocked(ctx)
}

// persistLocked writes the cart, or removes the key when it is empty so a
// stale blob can never come back.
func (g *GuestCartStore) persistLocked(ctx context.Context) {
	if len(g.lines) == 0 {
		if err := g.kv.Remove(ctx, kvstore.KeyGuestCart); err != nil {
			g.log.WithError(err).Warn("failed to remove guest cart")
		}
		return
	}

	data, err := json.Marshal(g.lines)
	if err != nil {
		g.log.WithError(err).Warn("failed to encode guest cart")
		return
	}
	if err := g.kv.Set(ctx, kvstore.KeyGuestCart, string(data)); err != nil {
		g.log.WithError(err).Warn("failed to persist guest cart")
	}
}
